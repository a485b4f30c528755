package project

import (
	"path/filepath"
	"testing"
)

func TestResolveByName(t *testing.T) {
	c := NewCatalog()
	c.Register("demo", "/srv/demo")
	p, err := c.Resolve("demo")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "demo" || p.Root != "/srv/demo" {
		t.Fatalf("project = %+v", p)
	}
}

func TestResolveByPath(t *testing.T) {
	c := NewCatalog()
	dir := t.TempDir()
	p, err := c.Resolve(dir)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != filepath.Base(dir) || p.Root != dir {
		t.Fatalf("project = %+v", p)
	}
	// Ad-hoc activation registers the project for name lookups.
	again, err := c.Resolve(p.Name)
	if err != nil {
		t.Fatal(err)
	}
	if again.Root != dir {
		t.Fatalf("re-resolve root = %q", again.Root)
	}
}

func TestResolveUnknown(t *testing.T) {
	c := NewCatalog()
	if _, err := c.Resolve("no-such-project"); err == nil {
		t.Fatal("unknown project accepted")
	}
	if _, err := c.Resolve(""); err == nil {
		t.Fatal("empty project accepted")
	}
}

func TestListSorted(t *testing.T) {
	c := NewCatalog()
	c.Register("zeta", "/z")
	c.Register("alpha", "/a")
	list := c.List()
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "zeta" {
		t.Fatalf("list = %+v", list)
	}
}
