package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionableSelector(t *testing.T) {
	tests := []struct {
		name         string
		itemSelector string
		filledClass  string
		dryRun       bool
		want         string
	}{
		{
			name:         "default selectors",
			itemSelector: ".favorite-icon",
			filledClass:  "filled",
			want:         ".favorite-icon:not(.filled)",
		},
		{
			name:         "dry run excludes seen items",
			itemSelector: ".favorite-icon",
			filledClass:  "filled",
			dryRun:       true,
			want:         ".favorite-icon:not(.filled):not([data-favsweep-seen])",
		},
		{
			name:         "no filled class",
			itemSelector: "button.fav",
			want:         "button.fav",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := actionableSelector(tt.itemSelector, tt.filledClass, tt.dryRun)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScanScriptStampsAndQueries(t *testing.T) {
	script := scanScript(".favorite-icon:not(.filled)")

	assert.Contains(t, script, `querySelectorAll(".favorite-icon:not(.filled)")`)
	assert.Contains(t, script, idAttr, "the script must stamp the stable id attribute")
	assert.Contains(t, script, "getBoundingClientRect")
}

func TestObserverScriptUsesBinding(t *testing.T) {
	script := observerScript()

	assert.Contains(t, script, "window."+changeBinding)
	assert.Contains(t, script, "MutationObserver")
	assert.Contains(t, script, "childList: true, subtree: true")
	// Re-evaluation on the same document must be a no-op.
	assert.Contains(t, script, "if (window.__favsweepObserver) { return; }")
}

func TestItemSelectorFor(t *testing.T) {
	assert.Equal(t, `[data-favsweep-id="7"]`, itemSelectorFor(7))
}

func TestPerItemScriptsTargetStampedID(t *testing.T) {
	assert.Contains(t, markSeenScript(3), itemSelectorFor(3))
	assert.Contains(t, markSeenScript(3), seenAttr)
	assert.Contains(t, clickScript(12), itemSelectorFor(12))
	assert.Contains(t, clickScript(12), "el.click()")
}
