package webchat

import _ "embed"

// WidgetJS is the embeddable loader script served at /widget.js. It keeps
// all engagement logic server-side and only forwards page events over the
// websocket.
//
//go:embed widget.js
var WidgetJS []byte
