// Package keyscan discovers SSH host keys and checks SSH port reachability.
//
// # Scanner
//
// [Scanner.FetchHostKeys] is a deliberately small ssh-keyscan. It connects to port 22, sends
// its identification string, requires an identification line starting with "SSH-" from the
// server, and then reads at most 50 lines looking for
//
//	<token> <key-type> <base64>
//
// entries whose key type is one of ssh-rsa, ssh-ed25519, ecdsa-sha2-nistp256/384/521 or
// ssh-dss. Entries with undecodable base64 are dropped. The scan stops early once a key has been
// found and more than 10 lines were consumed, and it stops as soon as the server switches to
// binary packets. Connects are bounded by 10s and every line read by 5s.
//
// Servers that only reveal host keys inside the key exchange can still be scanned with
// [WithKeyExchangeProbe]: the scanner then offers one host key algorithm per connection and
// aborts from the host key callback, so no authentication or session ever takes place.
//
// # Prober
//
// [Prober.IsAvailable] is a boolean TCP reachability check used for pre-flight UX. It never
// returns an error.
package keyscan
