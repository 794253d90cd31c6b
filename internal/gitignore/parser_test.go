package gitignore

import "testing"

func TestPatternMatching(t *testing.T) {
	g := New()
	for _, p := range []string{"*.log", "build/", "/secrets.yaml", "!important.log"} {
		if err := g.AddPattern(p); err != nil {
			t.Fatalf("AddPattern(%q): %v", p, err)
		}
	}

	cases := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"app.log", false, true},
		{"nested/deep/app.log", false, true},
		{"important.log", false, false},
		{"build", true, true},
		{"build", false, false},
		{"secrets.yaml", false, true},
		{"config/secrets.yaml", false, false},
		{"main.go", false, false},
	}
	for _, tc := range cases {
		if got := g.IsIgnored(tc.path, tc.isDir); got != tc.want {
			t.Errorf("IsIgnored(%q, dir=%v) = %v, want %v", tc.path, tc.isDir, got, tc.want)
		}
	}
}

func TestCommentsAndBlankLinesIgnored(t *testing.T) {
	g := New()
	if err := g.AddPattern("# comment"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddPattern(""); err != nil {
		t.Fatal(err)
	}
	if g.IsIgnored("# comment", false) {
		t.Error("comment lines must not become patterns")
	}
}

func TestDefaultsSkipDependencyTrees(t *testing.T) {
	g := New()
	g.LoadDefault()

	if !g.IsIgnored("node_modules", true) {
		t.Error("node_modules should be ignored by default")
	}
	if !g.IsIgnored("app.min.js", false) {
		t.Error("minified bundles should be ignored by default")
	}
	if g.IsIgnored("internal/server.go", false) {
		t.Error("source files must not be ignored by default")
	}
}
