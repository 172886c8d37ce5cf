// Package tgui builds chat replies for Telegram:
//   - HTML fragments that are escaped by construction (H, Esc, B, Code)
//   - a line-oriented message builder with send options attached
//
// Builders default to ParseMode="HTML" with link previews disabled.
package tgui
