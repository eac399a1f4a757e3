// Package tgui has small helpers for Telegram inline keyboards and HTML text.
//
// Keyboards are built row by row with Inline; every callback button goes
// through CheckData so oversized payloads fail before they reach Telegram.
package tgui
