// Package tgui renders Telegram messages:
//   - HTML escaping helpers for ParseMode "HTML"
//   - a small card builder for status-style replies
//   - inline callback data ("scope:action:payload")
package tgui
