// Package dom is the document contract the overlay engine works against.
//
// The engine never touches a browser directly: it reads computed style,
// geometry and text through Element, mutates inline style and classes, and
// subscribes to tree mutations and user input through Document. Two
// implementations exist: memdom (in-memory, parsed HTML) and roddom (a live
// Chrome page).
//
// Implementations must not panic on exotic nodes. Failed reads return zero
// values; failed writes are dropped and logged by the implementation.
package dom

// UIAttr marks elements the engine creates for its own UI (banner, restore
// button, success indicator). The engine never classifies or hides them.
const UIAttr = "data-unveil-ui"

// ActionAttr names the action an engine-owned control triggers when it is
// clicked outside of click capture.
const ActionAttr = "data-unveil-action"

// Rect is a bounding box in viewport (client) coordinates.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.Left + r.Width }
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Contains reports whether the client point (x, y) lies inside r.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.Left && x < r.Right() && y >= r.Top && y < r.Bottom()
}

// Viewport is the visible area of the document plus its scroll offsets.
type Viewport struct {
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	ScrollX float64 `json:"scroll_x"`
	ScrollY float64 `json:"scroll_y"`
}

// Element is a handle on one element node.
type Element interface {
	// Key is stable for the lifetime of the node and unique within its document.
	Key() string
	// TagName is lower-cased.
	TagName() string

	// ClassName returns the class property when it is a plain string. SVG
	// elements report ok=false; callers fall back to Attr("class").
	ClassName() (string, bool)
	// ElementID returns the id property when it is a plain string.
	ElementID() (string, bool)
	Attr(name string) (string, bool)
	SetAttr(name, value string)
	RemoveAttr(name string)

	TextContent() string
	SetTextContent(text string)

	// ComputedStyle returns the resolved value of a CSS property.
	ComputedStyle(prop string) string
	// InlineStyle returns the value set on the style attribute, "" when unset.
	InlineStyle(prop string) string
	// SetInlineStyle sets an inline property. An empty value removes it.
	SetInlineStyle(prop, value string)
	AddClass(names ...string)
	RemoveClass(names ...string)

	// BoundingRect returns ok=false when geometry is unavailable.
	BoundingRect() (Rect, bool)

	Parent() Element
	NextSibling() Element
	Children() []Element
	// QueryAll returns the descendants matching selector, in document order.
	QueryAll(selector string) []Element
	AppendChild(child Element)
	Remove()
	IsConnected() bool
	// Contains reports whether other is el or one of its descendants.
	Contains(other Element) bool
	// Matches reports false for selectors that fail to parse.
	Matches(selector string) bool
}

// Same reports whether a and b are the same node. Nil handles compare equal
// only to each other.
func Same(a, b Element) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Key() == b.Key()
}

// IsUI reports whether el or one of its ancestors carries UIAttr.
func IsUI(el Element) bool {
	for p := el; p != nil; p = p.Parent() {
		if _, ok := p.Attr(UIAttr); ok {
			return true
		}
	}
	return false
}

// RecordKind mirrors the MutationRecord type.
type RecordKind string

const (
	ChildList  RecordKind = "childList"
	Attributes RecordKind = "attributes"
)

// Record is one tree mutation.
type Record struct {
	Kind   RecordKind
	Target Element
	// Added holds the element nodes inserted under Target (ChildList only).
	Added []Element
	// AttributeName is set for Attributes records.
	AttributeName string
}

// ObserveOptions selects which mutations a subscription receives.
type ObserveOptions struct {
	ChildList       bool
	Subtree         bool
	Attributes      bool
	AttributeFilter []string
}

// InputKind distinguishes user input reaching the engine.
type InputKind string

const (
	// KeyDown is a keyboard event.
	KeyDown InputKind = "keydown"
	// Click is a click captured while click capture is on.
	Click InputKind = "click"
	// Action is a click on an element carrying ActionAttr while capture is off.
	Action InputKind = "action"
)

// Input is a user event forwarded by the document.
type Input struct {
	Kind   InputKind
	Key    string
	Alt    bool
	Ctrl   bool
	Shift  bool
	Meta   bool
	Button int
	Target Element
	// X and Y are client coordinates of a click.
	X, Y   float64
	Action string
}

// Subscription is the handle returned by Observe and Listen.
type Subscription interface {
	Cancel()
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Cancel() { f() }

// Document is a handle on one page.
type Document interface {
	URL() string
	Viewport() Viewport
	Body() Element
	DocumentElement() Element
	// ElementFromPoint hit-tests client coordinates.
	ElementFromPoint(x, y float64) Element
	ElementByID(id string) Element
	QueryAll(selector string) []Element
	// CreateElement returns a detached element.
	CreateElement(tag string) Element

	// Observe delivers mutation batches under target. Callbacks may run on
	// any goroutine and must not block.
	Observe(target Element, opts ObserveOptions, fn func([]Record)) Subscription
	// Listen delivers key presses, captured clicks and control actions.
	Listen(fn func(Input)) Subscription
	// CaptureClicks routes primary clicks to listeners before page handlers
	// and prevents their default action.
	CaptureClicks(on bool)
}
