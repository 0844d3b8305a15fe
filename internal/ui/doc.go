// Package ui implements the terminal room viewer using bubbletea's Elm architecture.
//
// The [Model] polls the room's playback endpoint through a [Client], then advances the
// progress bar locally once per second. When the estimate reaches the end of the item
// the model fetches a fresh view instead of waiting for the next poll.
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
//
// Keyboard bindings (r, ?, q) are displayed via charmbracelet/bubbles/help.
package ui
