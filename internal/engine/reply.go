package engine

// Button is one inline keyboard choice. Data carries an "action:id"
// payload routed back through HandleCallback.
type Button struct {
	Label string
	Data  string
}

// Reply is the transport-neutral outcome of handling one message or
// callback. The bot layer renders it to Telegram.
type Reply struct {
	Text    string
	Buttons [][]Button
}

func textReply(text string) *Reply {
	return &Reply{Text: text}
}

// Callback action tags. Payload format is "<action>:<id>" except
// ActionEditField, which is "<action>:<event id>:<field>".
const (
	ActionConfirm        = "confirm"
	ActionEdit           = "edit"
	ActionDiscard        = "discard"
	ActionKeepBoth       = "keep"
	ActionReplace        = "replace"
	ActionCancelConflict = "cancel"
	ActionEditEvent      = "editevent"
	ActionEditField      = "editfield"
	ActionDeleteEvent    = "delevent"
	ActionDeleteClass    = "delclass"
)
