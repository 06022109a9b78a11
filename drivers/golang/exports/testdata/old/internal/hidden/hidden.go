package hidden

// InternalFunc is not importable outside the module.
func InternalFunc() {}
