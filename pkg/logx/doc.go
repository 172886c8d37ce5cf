// Package logx is contentbot's structured logging wrapper over zerolog.
//
// Console output is human readable, the optional file sink is JSON, and the
// optional ops-chat sink mirrors warnings to an operator chat with rate limiting.
package logx
