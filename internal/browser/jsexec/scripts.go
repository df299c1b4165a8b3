// internal/browser/jsexec/scripts.go
package jsexec

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Function declarations run through CallOn with `this` bound to an element
// (or to the document for QueryAll at the root).
const (
	// QueryAll(kind, value) returns the matching elements below `this` in document order.
	QueryAll = `function(kind, value) {
	const root = this;
	if (kind === 'xpath') {
		const doc = root.ownerDocument || root;
		const snap = doc.evaluate(value, root, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		const out = [];
		for (let i = 0; i < snap.snapshotLength; i++) {
			const n = snap.snapshotItem(i);
			if (n.nodeType === Node.ELEMENT_NODE) out.push(n);
		}
		return out;
	}
	let css = value;
	switch (kind) {
	case 'id': css = '#' + CSS.escape(value); break;
	case 'name': css = '[name="' + CSS.escape(value) + '"]'; break;
	case 'class': css = value.trim().split(/\s+/).map(c => '.' + CSS.escape(c)).join(''); break;
	}
	return Array.from(root.querySelectorAll(css));
}`

	Parent = `function() { return this.parentElement; }`

	Children = `function(sel) {
	return Array.from(this.children).filter(c => !sel || c.matches(sel));
}`

	Siblings = `function(sel) {
	const p = this.parentElement;
	if (!p) return [];
	return Array.from(p.children).filter(c => c !== this && (!sel || c.matches(sel)));
}`

	Text = `function() {
	const t = this.innerText;
	return (t === undefined || t === null) ? (this.textContent || '') : t;
}`

	Attribute = `function(name) { return this.getAttribute(name); }`

	// Property returns a JSON-safe copy of this[name], or its string form.
	Property = `function(name) {
	const v = this[name];
	if (v === undefined) return null;
	try { return JSON.parse(JSON.stringify(v)); } catch (e) { return String(v); }
}`

	HTML = `function(outer) { return outer ? this.outerHTML : this.innerHTML; }`

	// Bounds is the border box relative to the viewport.
	Bounds = `function() {
	const r = this.getBoundingClientRect();
	return {x: r.left, y: r.top, width: r.width, height: r.height};
}`

	// PageBounds is the border box relative to the document, for screenshot clips.
	PageBounds = `function() {
	const r = this.getBoundingClientRect();
	return {x: r.left + window.scrollX, y: r.top + window.scrollY, width: r.width, height: r.height};
}`

	Visible = `function() {
	if (!this.isConnected) return false;
	const s = window.getComputedStyle(this);
	if (s.display === 'none' || s.visibility === 'hidden' || s.visibility === 'collapse') return false;
	if (parseFloat(s.opacity) === 0) return false;
	const r = this.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
}`

	Enabled = `function() {
	if (typeof this.matches === 'function' && this.matches(':disabled')) return false;
	return this.getAttribute('aria-disabled') !== 'true';
}`

	Selected = `function() {
	if (this.checked === true || this.selected === true) return true;
	return this.getAttribute('aria-selected') === 'true' || this.getAttribute('aria-checked') === 'true';
}`

	// OnTop reports whether the element (or a descendant) is what a click at
	// its center would hit.
	OnTop = `function() {
	const r = this.getBoundingClientRect();
	const x = r.left + r.width / 2, y = r.top + r.height / 2;
	let hit = document.elementFromPoint(x, y);
	while (hit && hit.shadowRoot) {
		const inner = hit.shadowRoot.elementFromPoint(x, y);
		if (!inner || inner === hit) break;
		hit = inner;
	}
	return hit === this || this.contains(hit);
}`

	Connected = `function() { return this.isConnected; }`

	Focus = `function() { this.focus(); }`

	Clear = `function() {
	this.focus();
	if ('value' in this) {
		this.value = '';
	} else if (this.isContentEditable) {
		this.textContent = '';
	}
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
}`

	ClickJS = `function() { this.click(); }`

	ScrollBy = `function(x, y, behavior) { this.scrollBy({left: x, top: y, behavior: behavior || 'auto'}); }`

	ScrollIntoView = `function(behavior) { this.scrollIntoView({block: 'center', inline: 'center', behavior: behavior || 'auto'}); }`
)

// Expressions evaluated in the page.
const (
	DocumentTitle = `document.title`
	LocationHref  = `window.location.href`
)

// Fetch performs an HTTP request from the page with the page's cookies and
// origin, returning status, headers and body text.
const Fetch = `async function(url, method, headers, body, timeoutMs) {
	const ctrl = new AbortController();
	const timer = setTimeout(() => ctrl.abort(), timeoutMs);
	try {
		const init = {method: method, headers: headers || {}, signal: ctrl.signal, credentials: 'include'};
		if (body !== null && body !== undefined && method !== 'GET' && method !== 'HEAD') init.body = body;
		const r = await fetch(url, init);
		const h = {};
		r.headers.forEach((v, k) => { h[k] = v; });
		return {status: r.status, status_text: r.statusText, url: r.url, headers: h, body: await r.text()};
	} finally {
		clearTimeout(timer);
	}
}`

var returnStatement = regexp.MustCompile(`(^|[;{}\s])return[\s;(]`)

// NeedsFunctionWrap reports whether a caller script uses statements that are
// only legal inside a function body.
func NeedsFunctionWrap(script string) bool {
	return returnStatement.MatchString(script)
}

// WrapPageScript turns a statement-style script into an awaited expression.
// args are visible to the script as `arguments`.
func WrapPageScript(script string, args []interface{}) (string, error) {
	if args == nil {
		args = []interface{}{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return "(async function() {\n" + script + "\n}).apply(window, " + string(raw) + ")", nil
}

// ElementScript wraps a caller script so that `this` and arguments[0] are the
// element and the remaining arguments follow.
func ElementScript(script string) string {
	if !NeedsFunctionWrap(script) {
		script = "return (" + strings.TrimRight(script, "; \t\r\n") + ");"
	}
	return "async function() {\n\tconst __args = [this].concat(Array.from(arguments));\n\treturn await (async function() {\n" +
		script + "\n\t}).apply(this, __args);\n}"
}
