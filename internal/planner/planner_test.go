package planner_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tableon/barctl/internal/planner"
	"github.com/tableon/barctl/internal/recipe"
	"github.com/tableon/barctl/pkg/models"
)

const testRecipes = `[
  {"menu_code": 101, "menu_name": "iced latte", "cup_num": 2,
   "ice_ext_time": 3, "water_ext_time": 5, "sparkling_ext_time": 2,
   "hotwater_ext_time": 4, "coffee_ext_time": 30, "coffee_product_id": 2,
   "syrups": [{"id": 1, "time": 2}, {"id": 3, "time": 1.5}]},
  {"menu_code": 102, "menu_name": "americano", "cup_num": 1,
   "coffee_ext_time": 25, "coffee_product_id": 1},
  {"menu_code": 200, "menu_name": "ice water", "cup_num": 2, "water_ext_time": 4},
  {"menu_code": 300, "menu_name": "empty cup", "cup_num": 1},
  {"menu_code": 400, "menu_name": "broken", "cup_num": 3, "water_ext_time": 1}
]`

func newPlanner(t *testing.T) *planner.Planner {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recipe.json")
	if err := os.WriteFile(path, []byte(testRecipes), 0o644); err != nil {
		t.Fatal(err)
	}
	store := recipe.NewStore(path, false)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	return planner.New(store)
}

func cmds(tasks []*models.Task) []int {
	out := make([]int, len(tasks))
	for i, tk := range tasks {
		out[i] = tk.Cmd
	}
	return out
}

func TestPlanFullRecipe(t *testing.T) {
	p := newPlanner(t)
	order := models.Order{OrderNo: 7, MenuCode: 101, MenuName: "iced latte"}

	tasks, err := p.Plan(order, "u1")
	if err != nil {
		t.Fatal(err)
	}

	want := []int{
		models.CmdCupMove,
		models.CmdWiMove, models.CmdWiDone,
		models.CmdHotMove, models.CmdHotDone,
		models.CmdCoffeeMove, models.CmdCoffeeDone,
		models.CmdSyrupMove, models.CmdSyrupDone,
		models.CmdSyrupMove, models.CmdSyrupDone,
		models.CmdPickupMove, models.CmdPickupPlace, models.CmdHome,
	}
	got := cmds(tasks)
	if len(got) != len(want) {
		t.Fatalf("task count = %d (%v), want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage %d cmd = %d, want %d", i, got[i], want[i])
		}
	}

	// Every station visit is an atomic pair.
	for i, tk := range tasks {
		switch tk.Cmd {
		case models.CmdWiMove, models.CmdHotMove, models.CmdCoffeeMove, models.CmdSyrupMove, models.CmdPickupMove:
			if tk.ChainedNext != tasks[i+1].ID {
				t.Errorf("task %s (cmd %d) not chained to its done", tk.ID, tk.Cmd)
			}
		}
	}

	cup := tasks[0]
	if cup.Params[models.RegCupIdx] != 2 {
		t.Errorf("cup param = %d, want 2 (iced)", cup.Params[models.RegCupIdx])
	}

	coffeeMove, coffeeDone := tasks[5], tasks[6]
	if !coffeeMove.ParallelCheckPoint {
		t.Error("coffee move is not a parallel check point")
	}
	if coffeeMove.PostAction == nil || coffeeMove.PostAction.Type != models.ActionCoffee {
		t.Error("milk-based coffee must start after the cup is placed")
	}
	if !coffeeDone.IsCoffeeWait || coffeeDone.PreAction == nil || coffeeDone.PreAction.Seconds != 30 {
		t.Errorf("coffee done wait wrong: %+v", coffeeDone.PreAction)
	}
	if coffeeDone.PostAction == nil || coffeeDone.PostAction.Type != models.ActionRinse {
		t.Error("coffee done missing rinse")
	}

	if tasks[7].Params[models.RegSyrupIdx] != 1 || tasks[9].Params[models.RegSyrupIdx] != 3 {
		t.Error("syrup selector params wrong")
	}

	place := tasks[12]
	if place.NotifyPickup == nil || place.NotifyPickup.OrderNo != 7 || place.NotifyPickup.MenuCode != 101 {
		t.Errorf("pickup notice = %+v", place.NotifyPickup)
	}

	home := tasks[13]
	if !home.Skippable || home.ChainedNext != "" {
		t.Error("home must be skippable and unchained")
	}

	for _, tk := range tasks {
		if tk.OrderUUID != "u1" {
			t.Fatalf("task %s carries uuid %q", tk.ID, tk.OrderUUID)
		}
	}
}

func TestPlanBlackCoffeeGrindsAhead(t *testing.T) {
	p := newPlanner(t)
	tasks, err := p.Plan(models.Order{MenuCode: 102}, "u2")
	if err != nil {
		t.Fatal(err)
	}
	// cup, coffee pair, serve trio
	if len(tasks) != 6 {
		t.Fatalf("task count = %d, want 6", len(tasks))
	}
	move := tasks[1]
	if move.Cmd != models.CmdCoffeeMove {
		t.Fatalf("second task cmd = %d", move.Cmd)
	}
	if move.PreAction == nil || move.PreAction.Type != models.ActionCoffee {
		t.Error("black coffee must start before the robot arrives")
	}
	if move.PostAction != nil {
		t.Error("black coffee should have no post action on the move")
	}
}

func TestPlanSkipsEmptyStages(t *testing.T) {
	p := newPlanner(t)

	tasks, err := p.Plan(models.Order{MenuCode: 200}, "u3")
	if err != nil {
		t.Fatal(err)
	}
	want := []int{models.CmdCupMove, models.CmdWiMove, models.CmdWiDone,
		models.CmdPickupMove, models.CmdPickupPlace, models.CmdHome}
	got := cmds(tasks)
	if len(got) != len(want) {
		t.Fatalf("cmds = %v, want %v", got, want)
	}

	wi := tasks[1]
	if wi.PostAction == nil || wi.PostAction.Water != 4 || wi.PostAction.Ice != 0 {
		t.Errorf("water action = %+v", wi.PostAction)
	}
}

func TestPlanBareCup(t *testing.T) {
	p := newPlanner(t)
	tasks, err := p.Plan(models.Order{MenuCode: 300}, "u4")
	if err != nil {
		t.Fatal(err)
	}
	want := []int{models.CmdCupMove, models.CmdPickupMove, models.CmdPickupPlace, models.CmdHome}
	got := cmds(tasks)
	if len(got) != len(want) {
		t.Fatalf("cmds = %v, want %v", got, want)
	}
}

func TestPlanUnknownMenu(t *testing.T) {
	p := newPlanner(t)
	if _, err := p.Plan(models.Order{MenuCode: 999}, "u5"); !errors.Is(err, planner.ErrUnknownMenu) {
		t.Fatalf("err = %v, want ErrUnknownMenu", err)
	}
}

func TestPlanInvalidCup(t *testing.T) {
	p := newPlanner(t)
	if _, err := p.Plan(models.Order{MenuCode: 400}, "u6"); !errors.Is(err, planner.ErrInvalidCup) {
		t.Fatalf("err = %v, want ErrInvalidCup", err)
	}
}

func TestIsCoffeeMenu(t *testing.T) {
	p := newPlanner(t)
	if !p.IsCoffeeMenu(101) {
		t.Error("latte not detected as coffee")
	}
	if p.IsCoffeeMenu(200) {
		t.Error("ice water detected as coffee")
	}
	if p.IsCoffeeMenu(999) {
		t.Error("unknown menu detected as coffee")
	}
}

func TestPlanIDsAreUnique(t *testing.T) {
	p := newPlanner(t)
	seen := map[string]bool{}
	for _, uuid := range []string{"a", "b"} {
		tasks, err := p.Plan(models.Order{MenuCode: 101}, uuid)
		if err != nil {
			t.Fatal(err)
		}
		for _, tk := range tasks {
			if seen[tk.ID] {
				t.Fatalf("duplicate task id %s", tk.ID)
			}
			seen[tk.ID] = true
		}
	}
}
