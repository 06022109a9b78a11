package main

func Generate() {}

func main() {}
