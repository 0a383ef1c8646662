package identity

import (
	"testing"

	"pgregory.net/rapid"
)

func resolved() Identity {
	return Identity{
		IP:       "203.0.113.7",
		Location: "Lisbon, PT",
		UserID:   "0123456789abcdef0123456789abcdef01234567",
		Region:   "Lisbon",
		OS:       "Linux",
		Device:   "Desktop",
		Browser:  "Firefox",
	}
}

func TestPendingIsNotStable(t *testing.T) {
	if Pending().Stable() {
		t.Fatal("pending identity reported stable")
	}
	if !resolved().Stable() {
		t.Fatal("resolved identity reported unstable")
	}

	partial := resolved()
	partial.Region = Detecting
	if partial.Stable() {
		t.Error("identity with a Detecting field reported stable")
	}
	partial = resolved()
	partial.Browser = ""
	if partial.Stable() {
		t.Error("identity with an empty field reported stable")
	}
}

// Feature: viewtrack, Property: identity merge keeps unspecified fields
func TestMergeKeepsUnsetFields(t *testing.T) {
	field := rapid.OneOf(rapid.Just(""), rapid.StringMatching(`[a-z0-9]{1,12}`))
	gen := rapid.Custom(func(t *rapid.T) Identity {
		return Identity{
			IP:       field.Draw(t, "ip"),
			Location: field.Draw(t, "location"),
			UserID:   field.Draw(t, "user_id"),
			Region:   field.Draw(t, "region"),
			OS:       field.Draw(t, "os"),
			Device:   field.Draw(t, "device"),
			Browser:  field.Draw(t, "browser"),
		}
	})

	rapid.Check(t, func(t *rapid.T) {
		base := gen.Draw(t, "base")
		update := gen.Draw(t, "update")
		got := base.Merge(update)

		pick := func(b, u string) string {
			if u != "" {
				return u
			}
			return b
		}
		want := Identity{
			IP:       pick(base.IP, update.IP),
			Location: pick(base.Location, update.Location),
			UserID:   pick(base.UserID, update.UserID),
			Region:   pick(base.Region, update.Region),
			OS:       pick(base.OS, update.OS),
			Device:   pick(base.Device, update.Device),
			Browser:  pick(base.Browser, update.Browser),
		}
		if got != want {
			t.Fatalf("Merge(%+v, %+v) = %+v, want %+v", base, update, got, want)
		}
	})
}

func TestContextNotifiesOnChangeOnly(t *testing.T) {
	c := NewContext(Pending())
	var seen []Identity
	unsubscribe := c.Subscribe(func(id Identity) { seen = append(seen, id) })

	c.Update(Identity{IP: "203.0.113.7"})
	c.Update(Identity{IP: "203.0.113.7"})
	if len(seen) != 1 {
		t.Fatalf("got %d notifications, want 1", len(seen))
	}
	if seen[0].IP != "203.0.113.7" || seen[0].UserID != Generating {
		t.Errorf("unexpected notified identity %+v", seen[0])
	}

	unsubscribe()
	unsubscribe()
	c.Update(Identity{Region: "Lisbon"})
	if len(seen) != 1 {
		t.Errorf("notified after unsubscribe")
	}
	if got := c.Get().Region; got != "Lisbon" {
		t.Errorf("Region = %q, want Lisbon", got)
	}
}
