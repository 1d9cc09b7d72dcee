package cdppage

// Every script is a function declaration called with positional arguments.
// Group lookups take (groupSelector, groupIndex) first and report a missing
// element as {ok: false, missing: "<what>"}.

const countJS = `function(sel) {
	return document.querySelectorAll(sel).length;
}`

const fillJS = `function(gsel, gi, csel, value) {
	const g = document.querySelectorAll(gsel)[gi];
	if (!g) return {ok: false, missing: "group"};
	const el = g.querySelector(csel);
	if (!el) return {ok: false, missing: csel};
	el.focus();
	let proto = null;
	if (el instanceof HTMLTextAreaElement) proto = HTMLTextAreaElement.prototype;
	else if (el instanceof HTMLInputElement) proto = HTMLInputElement.prototype;
	const desc = proto ? Object.getOwnPropertyDescriptor(proto, "value") : null;
	if (desc && desc.set) desc.set.call(el, value);
	else el.value = value;
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return {ok: true};
}`

const labelsJS = `function(gsel, gi, sel) {
	const g = document.querySelectorAll(gsel)[gi];
	if (!g) return {ok: false, missing: "group"};
	const labels = Array.from(g.querySelectorAll(sel), (b) => (b.textContent || "").replace(/\s+/g, " ").trim());
	return {ok: true, labels: labels};
}`

const clickJS = `function(gsel, gi, sel, n) {
	const g = document.querySelectorAll(gsel)[gi];
	if (!g) return {ok: false, missing: "group"};
	const el = g.querySelectorAll(sel)[n];
	if (!el) return {ok: false, missing: sel};
	el.click();
	return {ok: true};
}`

const hasFileInputJS = `function(gsel, gi, sel) {
	const g = document.querySelectorAll(gsel)[gi];
	if (!g) return {ok: false, missing: "group"};
	return {ok: true, found: !!(g.querySelector(sel) || document.querySelector(sel))};
}`

// markFileInputJS tags the file input with a one-off attribute so the DOM
// domain can address it by a plain selector.
const markFileInputJS = `function(gsel, gi, sel, attr, marker) {
	const g = document.querySelectorAll(gsel)[gi];
	if (!g) return {ok: false, missing: "group"};
	const el = g.querySelector(sel) || document.querySelector(sel);
	if (!el) return {ok: false, missing: sel};
	el.setAttribute(attr, marker);
	return {ok: true};
}`

const unmarkJS = `function(attr, marker) {
	const el = document.querySelector("[" + attr + "=\"" + marker + "\"]");
	if (el) el.removeAttribute(attr);
	return {ok: true};
}`

const dropFileJS = `function(gsel, gi, target, name, mime, b64) {
	const g = document.querySelectorAll(gsel)[gi];
	if (!g) return {ok: false, missing: "group"};
	const el = (target && g.querySelector(target)) || g;
	const bin = atob(b64);
	const bytes = new Uint8Array(bin.length);
	for (let i = 0; i < bin.length; i++) bytes[i] = bin.charCodeAt(i);
	const file = new File([bytes], name, {type: mime});
	const dt = new DataTransfer();
	dt.items.add(file);
	for (const type of ["dragenter", "dragover", "drop"]) {
		el.dispatchEvent(new DragEvent(type, {bubbles: true, cancelable: true, dataTransfer: dt}));
	}
	return {ok: true};
}`
