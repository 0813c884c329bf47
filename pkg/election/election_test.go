package election

import (
	"testing"

	"github.com/daviddao/peerbus/pkg/model"
)

func TestDecide_SoloInstanceIsPrimary(t *testing.T) {
	d := Decide("a", 1, nil)
	if !d.Primary || d.PrimaryID != "a" {
		t.Fatalf("solo instance: got %+v, want primary a", d)
	}
}

func TestDecide_LowestPositionWins(t *testing.T) {
	peers := []model.Instance{
		{ID: "b", Position: 2},
		{ID: "c", Position: 3},
	}
	d := Decide("a", 1, peers)
	if d.PrimaryID != "a" || !d.Primary {
		t.Fatalf("position 1 should win: %+v", d)
	}

	d = Decide("c", 3, []model.Instance{{ID: "b", Position: 2}})
	if d.PrimaryID != "b" || d.Primary {
		t.Fatalf("position 2 should win over 3: %+v", d)
	}
}

func TestDecide_TieBreaksByID(t *testing.T) {
	// Two instances that joined at the same instant both hold position 1.
	d := Decide("zz", 1, []model.Instance{{ID: "aa", Position: 1}})
	if d.PrimaryID != "aa" || d.Primary {
		t.Fatalf("tie should break to lower id: %+v", d)
	}
	d = Decide("aa", 1, []model.Instance{{ID: "zz", Position: 1}})
	if d.PrimaryID != "aa" || !d.Primary {
		t.Fatalf("tie should break to lower id: %+v", d)
	}
}

func TestDecide_PrimaryLossPromotesNextPosition(t *testing.T) {
	// With position 1 gone from the live set, position 2 takes over.
	d := Decide("b", 2, []model.Instance{{ID: "c", Position: 3}})
	if d.PrimaryID != "b" || !d.Primary {
		t.Fatalf("after primary loss: %+v", d)
	}
}

func TestDecide_AllObserversAgree(t *testing.T) {
	all := []model.Instance{
		{ID: "a", Position: 1},
		{ID: "b", Position: 2},
		{ID: "c", Position: 3},
	}
	for _, self := range all {
		var peers []model.Instance
		for _, p := range all {
			if p.ID != self.ID {
				peers = append(peers, p)
			}
		}
		d := Decide(self.ID, self.Position, peers)
		if d.PrimaryID != "a" {
			t.Fatalf("observer %s elected %s, want a", self.ID, d.PrimaryID)
		}
		if d.Primary != (self.ID == "a") {
			t.Fatalf("observer %s self-assessment wrong: %+v", self.ID, d)
		}
	}
}

func TestNextPosition(t *testing.T) {
	cases := []struct {
		name  string
		peers []model.Instance
		want  int
	}{
		{"first instance", nil, 1},
		{"second instance", []model.Instance{{ID: "a", Position: 1}}, 2},
		{"after churn", []model.Instance{{ID: "b", Position: 2}, {ID: "d", Position: 4}}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextPosition(tc.peers); got != tc.want {
				t.Fatalf("NextPosition = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestByPosition(t *testing.T) {
	list := []model.Instance{
		{ID: "c", Position: 3},
		{ID: "b", Position: 1},
		{ID: "a", Position: 1},
	}
	ByPosition(list)
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("order[%d] = %s, want %s", i, list[i].ID, id)
		}
	}
}
