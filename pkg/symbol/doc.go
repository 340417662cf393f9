// Package symbol implements the declaration contract carried in linker
// symbol names.
//
// Firmware exports every metric, setting and graph as a symbol whose name
// is a compact JSON record:
//
//	{"type":"Metric","package":"app","ty":"i32","name":"FOO","expr":"FOO * 2","disambiguator":"42","crate_name":"app"}
//	{"type":"Setting","package":"app","ty":"u8","name":"GAIN","range":{"start":0,"end":10},"step_size":1,"disambiguator":"7","crate_name":"app"}
//	{"type":"Graph","package":"app","name":"SUM","expr":"FOO + GAIN","disambiguator":"9","crate_name":"app"}
//
// Strings escape backslash, double quote, control characters and '@' as
// \uXXXX sequences. Decode filters symbol names that are not declarations
// (ErrNotDeclaration) and reports records that carry a declaration tag but
// cannot be honored (ErrMalformedEscape, ErrUnsupportedKind, ErrInvalidField).
package symbol
