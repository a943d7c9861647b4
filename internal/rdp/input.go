package rdp

// Input event types as they arrive from the client transport.
const (
	InputMouseMove   = "mouse_move"
	InputMouseButton = "mouse_button"
	InputMouseWheel  = "mouse_wheel"
	InputKeyboard    = "keyboard"
)

// Mouse button identifiers used by mouse_button events.
const (
	MouseButtonLeft   = 1
	MouseButtonRight  = 2
	MouseButtonMiddle = 3
)

// InputEvent is one user input event. Which fields are meaningful
// depends on Type: position for mouse events, Button and Pressed for
// clicks, Delta for wheel, Scancode and Pressed for keyboard.
type InputEvent struct {
	Type     string `json:"type"`
	X        uint16 `json:"x,omitempty"`
	Y        uint16 `json:"y,omitempty"`
	Button   int    `json:"button,omitempty"`
	Pressed  bool   `json:"down,omitempty"`
	Delta    int16  `json:"delta,omitempty"`
	Scancode uint16 `json:"scancode,omitempty"`
}

// Critical reports whether the event must reach the server with minimum
// latency. Everything except pointer motion is critical: a delayed click
// or keystroke is user-visible, a delayed motion sample is not.
func (e InputEvent) Critical() bool {
	return e.Type != InputMouseMove
}
