// Package render serializes element trees to HTML.
//
// Both the server tree (pkg/dom) and the headless client mirror
// (pkg/client) implement Node, so the same renderer produces the markup the
// browser would show for either side. Tests compare the two to check that
// the client converged on the server state.
//
//	html, err := render.NewRenderer(render.RendererConfig{}).RenderToString(node)
//
// # Security
//
// All text content and attribute values are escaped. Attribute names are
// validated by the tree before they get here.
package render
