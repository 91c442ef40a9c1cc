package fallback

import (
	"errors"
	"strings"
	"testing"
)

func TestFirstReturnsFirstSuccess(t *testing.T) {
	var tried []int
	got, err := First([]int{1, 2, 3, 4}, func(c int) (string, error) {
		tried = append(tried, c)
		if c < 3 {
			return "", errors.New("nope")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if got != "ok" {
		t.Errorf("got %q, want ok", got)
	}
	if len(tried) != 3 {
		t.Errorf("tried %v, want stop after candidate 3", tried)
	}
}

func TestFirstAggregatesFailures(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	_, err := First([]error{errA, errB}, func(e error) (int, error) {
		return 0, e
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("aggregate should wrap both failures: %v", err)
	}
	if !strings.Contains(err.Error(), "candidate 1") {
		t.Errorf("aggregate should label candidates: %v", err)
	}
}

func TestFirstEmpty(t *testing.T) {
	_, err := First(nil, func(string) (int, error) { return 1, nil })
	if !errors.Is(err, ErrNoCandidates) {
		t.Errorf("got %v, want ErrNoCandidates", err)
	}
}
