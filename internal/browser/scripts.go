package browser

import (
	"fmt"
	"strconv"
)

// changeBinding is the CDP binding the injected observer calls whenever a
// qualifying element is added to the document.
const changeBinding = "__favsweep_notify"

// Attributes stamped onto page elements. idAttr gives every actionable item a
// stable identity across re-scans; seenAttr marks items already counted in
// dry-run mode.
const (
	idAttr   = "data-favsweep-id"
	seenAttr = "data-favsweep-seen"
)

// actionableSelector builds the CSS selector matching items still eligible
// for the action. Filled items are excluded by class; in dry-run mode items
// already counted are excluded by the seen marker.
func actionableSelector(itemSelector, filledClass string, dryRun bool) string {
	sel := itemSelector
	if filledClass != "" {
		sel += ":not(." + filledClass + ")"
	}
	if dryRun {
		sel += ":not([" + seenAttr + "])"
	}
	return sel
}

// scanScript returns the JS that finds all actionable items, stamps each with
// a stable id, and reports ordinal plus rendered visibility per item.
func scanScript(selector string) string {
	return fmt.Sprintf(`(() => {
    const out = [];
    for (const el of document.querySelectorAll(%s)) {
        let id = el.getAttribute(%s);
        if (id === null) {
            window.__favsweepNextID = (window.__favsweepNextID || 0) + 1;
            id = String(window.__favsweepNextID);
            el.setAttribute(%s, id);
        }
        const rect = el.getBoundingClientRect();
        let visible = rect.width > 0 && rect.height > 0;
        if (visible) {
            const style = window.getComputedStyle(el);
            visible = style.visibility !== 'hidden' && style.display !== 'none';
        }
        out.push({ ordinal: parseInt(id, 10), visible: visible });
    }
    return out;
})()`, strconv.Quote(selector), strconv.Quote(idAttr), strconv.Quote(idAttr))
}

// positionScript reads the scroll offset (bottom edge of the viewport) and
// the document's scrollable extent.
const positionScript = `(() => ({
    offset: window.scrollY + window.innerHeight,
    limit: document.documentElement.scrollHeight
}))()`

// scrollToEndScript issues one growth attempt toward the end of the document.
const scrollToEndScript = `window.scrollTo(0, document.documentElement.scrollHeight)`

// observerScript installs a MutationObserver on the document that counts
// added element nodes, ignoring trivial tags, and reports them through the
// change binding. Installation is idempotent so the script can be both
// evaluated immediately and registered for new documents.
func observerScript() string {
	return fmt.Sprintf(`(() => {
    if (window.__favsweepObserver) { return; }
    const trivial = { SCRIPT: true, STYLE: true, LINK: true, META: true, NOSCRIPT: true };
    const observer = new MutationObserver((mutations) => {
        let added = 0;
        for (const m of mutations) {
            for (const n of m.addedNodes) {
                if (n.nodeType === 1 && !trivial[n.tagName]) { added++; }
            }
        }
        if (added > 0 && typeof window.%s === 'function') {
            window.%s(JSON.stringify({ added: added }));
        }
    });
    observer.observe(document.documentElement || document.body, { childList: true, subtree: true });
    window.__favsweepObserver = observer;
})()`, changeBinding, changeBinding)
}

// itemSelectorFor addresses a previously scanned item by its stamped id.
func itemSelectorFor(ordinal int) string {
	return fmt.Sprintf(`[%s="%d"]`, idAttr, ordinal)
}

// markSeenScript marks an item as counted without clicking it (dry-run).
func markSeenScript(ordinal int) string {
	return fmt.Sprintf(`(() => {
    const el = document.querySelector('%s');
    if (!el) { return false; }
    el.setAttribute(%s, "1");
    return true;
})()`, itemSelectorFor(ordinal), strconv.Quote(seenAttr))
}

// clickScript is the synthetic-click fallback for elements a CDP mouse click
// cannot hit.
func clickScript(ordinal int) string {
	return fmt.Sprintf(`(() => {
    const el = document.querySelector('%s');
    if (!el) { return false; }
    el.click();
    return true;
})()`, itemSelectorFor(ordinal))
}
