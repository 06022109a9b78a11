package sub

// SubFunc is a function in a sub-package.
func SubFunc(x int) int {
	return x * 2
}

// SubType is a type in a sub-package.
type SubType struct {
	Value string
}
