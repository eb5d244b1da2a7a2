package store

import "testing"

// newMemStore opens an in-memory SQLite database, runs migrations, and
// returns the store. The database is discarded when the test process
// exits.
func newMemStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsApplied(t *testing.T) {
	s := newMemStore(t)

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query schema_migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d migrations recorded, got %d", len(migrations), count)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	s := newMemStore(t)

	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d rows after second migrate, got %d", len(migrations), count)
	}
}

func TestUpsertAndGetGroup(t *testing.T) {
	s := newMemStore(t)

	id, err := s.UpsertGroup("band", "hash1", []byte("meta1"))
	if err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}
	if id == 0 {
		t.Fatal("expected nonzero id")
	}

	g, ok, err := s.GetGroup("band")
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if !ok {
		t.Fatal("expected group to exist")
	}
	if g.Name != "band" || g.PasswordHash != "hash1" || string(g.Metadata) != "meta1" {
		t.Errorf("unexpected group record: %+v", g)
	}

	// Upsert again with new metadata, same name.
	id2, err := s.UpsertGroup("band", "hash2", []byte("meta2"))
	if err != nil {
		t.Fatalf("UpsertGroup (update): %v", err)
	}
	if id2 != id {
		t.Errorf("expected stable id across upsert, got %d then %d", id, id2)
	}

	g2, _, err := s.GetGroup("band")
	if err != nil {
		t.Fatalf("GetGroup after update: %v", err)
	}
	if g2.PasswordHash != "hash2" || string(g2.Metadata) != "meta2" {
		t.Errorf("expected updated fields, got %+v", g2)
	}
}

func TestGetGroupMissing(t *testing.T) {
	s := newMemStore(t)

	_, ok, err := s.GetGroup("nonexistent")
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing group")
	}
}

func TestListGroupsOrdered(t *testing.T) {
	s := newMemStore(t)

	for _, name := range []string{"alpha", "beta", "gamma"} {
		if _, err := s.UpsertGroup(name, "", nil); err != nil {
			t.Fatalf("UpsertGroup(%q): %v", name, err)
		}
	}

	groups, err := s.ListGroups()
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if groups[0].Name != "alpha" || groups[2].Name != "gamma" {
		t.Errorf("unexpected order: %+v", groups)
	}
}

func TestDeleteGroup(t *testing.T) {
	s := newMemStore(t)

	if _, err := s.UpsertGroup("band", "", nil); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}
	if err := s.DeleteGroup("band"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	_, ok, err := s.GetGroup("band")
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if ok {
		t.Error("expected group to be gone after delete")
	}
}

func TestUpsertAndGetUser(t *testing.T) {
	s := newMemStore(t)

	id, err := s.UpsertUser("alice", "hash1", []byte("meta1"))
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if id == 0 {
		t.Fatal("expected nonzero id")
	}

	u, ok, err := s.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !ok {
		t.Fatal("expected user to exist")
	}
	if u.Name != "alice" || u.PasswordHash != "hash1" || string(u.Metadata) != "meta1" {
		t.Errorf("unexpected user record: %+v", u)
	}
}

func TestListUsers(t *testing.T) {
	s := newMemStore(t)

	for _, name := range []string{"alice", "bob"} {
		if _, err := s.UpsertUser(name, "", nil); err != nil {
			t.Fatalf("UpsertUser(%q): %v", name, err)
		}
	}

	users, err := s.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
}
