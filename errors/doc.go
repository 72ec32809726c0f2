/*
Package errors implements the error conventions used across this module.

The idea is to reuse as many errors from this package as possible and define
custom package errors only when necessary. Extensions register their own root
errors using Register(code, description); x/split is a good package to look
at for an example.

Code allows to distinguish types of errors on the caller side and act
accordingly. Use ErrXyz.Is(err) to test what an operation returned, no matter
how many times the original error got wrapped on the way up.

There is also support for stacktraces. Please ensure you create the error
using ErrXyz.New("...") or errors.Wrap(err, "...") at the point of creation
to attach a stacktrace. If you wrap multiple times, only the first wrap
records the stack.

Once you have an error, you can use fmt.Printf/Sprintf to get more context
	%s is just the error message
	%+v is the full stack trace
	%v appends a compressed [filename:line] where the error was created
*/
package errors
