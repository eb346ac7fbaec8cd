// Package filtering decides which SSH hosts the transport may connect to.
//
// Hosts are matched against include and exclude glob patterns. Patterns are compiled with
// '.' as the separator, so "*" matches a single DNS label and "**" matches any number:
//
//   - "github.com" matches only github.com
//   - "*.example.com" matches git.example.com but not a.b.example.com
//   - "**.example.com" matches both
//
// Precedence:
//
//  1. A host matching an exclude pattern is rejected
//  2. With include patterns, a host must match one of them
//  3. With no include patterns, every host not excluded is allowed
//
// Matching is case-insensitive and ignores a trailing dot.
package filtering
