package focus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesClient(t *testing.T) {
	s := &Source{client: "remmina"}

	assert.True(t, s.matchesClient("remmina"))
	assert.True(t, s.matchesClient("Remmina"))
	assert.True(t, s.matchesClient(`WM_CLASS(STRING) = "remmina", "Remmina"`))
	assert.True(t, s.matchesClient("org.remmina.Remmina"))
	assert.False(t, s.matchesClient("firefox"))
	assert.False(t, s.matchesClient(""))
}

func TestWaylandAlwaysFocused(t *testing.T) {
	s := &Source{display: "wayland", client: "remmina"}
	assert.True(t, s.ClientFocused())
}

func TestUnknownDisplayFailsOpen(t *testing.T) {
	s := &Source{display: "unknown", client: "remmina"}
	assert.True(t, s.ClientFocused())
}

func TestX11NoToolsFailsOpen(t *testing.T) {
	s := &Source{display: "x11", client: "remmina"}
	// No native connection and no tools: cannot detect, assume focused.
	assert.True(t, s.ClientFocused())
}

// TestNewProbe exercises detection on the real display, when one exists.
func TestNewProbe(t *testing.T) {
	s := New()
	defer s.Close()

	t.Logf("display server: %s", s.DisplayServer())
	t.Logf("client focused: %v", s.ClientFocused())
}
