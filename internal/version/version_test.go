package version

import "testing"

func TestCurrent(t *testing.T) {
	oldV, oldSHA, oldBuilt := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = oldV, oldSHA, oldBuilt })

	Version, GitSHA, BuildTime = "0.4.1", "abc1234", "2026-03-14T09:30:00Z"
	info := Current()
	if info.Version != "0.4.1" || info.GitSHA != "abc1234" {
		t.Errorf("Current() = %+v", info)
	}
	if got, want := info.String(), "0.4.1 (abc1234, built 2026-03-14T09:30:00Z)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
