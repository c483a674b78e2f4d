package crawler

import "errors"

// ErrUnexpectedItem is returned when the page data handler receives
// something other than a *model.Page.
var ErrUnexpectedItem = errors.New("crawler: unexpected data item")
