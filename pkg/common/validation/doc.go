// Package validation provides the checks shared by gopace constructors and
// the configuration loader, so that every rejected value produces the same
// ValidationError shape.
package validation
