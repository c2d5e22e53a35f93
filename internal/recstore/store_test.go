package recstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/maruel/recstore/internal/jsondoc"
)

type user struct {
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Age   int      `json:"age,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

func (u user) Clone() user {
	if u.Tags != nil {
		u.Tags = append([]string(nil), u.Tags...)
	}
	return u
}

func (u *user) Validate() error {
	if u.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

var testMeta = jsondoc.Metadata{Version: "1.0.0", Title: "Users", Description: "Test users"}

// setupStore creates a Store in the test's temp directory.
func setupStore(t *testing.T, opts *Options) (*Store[user], string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	s, err := New[user](path, testMeta, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, path
}

func ids(records []Record[user]) []int {
	out := make([]int, len(records))
	for i := range records {
		out[i] = records[i].ID
	}
	return out
}

var (
	alice = user{Name: "Alice", Email: "a@x", Age: 30}
	bob   = user{Name: "Bob", Email: "b@x", Age: 25}
	carol = user{Name: "Carol", Email: "c@x", Age: 30}
)

func TestNew(t *testing.T) {
	t.Run("unknown unique field", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "users.json")
		_, err := New[user](path, testMeta, &Options{UniqueFields: []string{"phone"}})
		if !errors.Is(err, jsondoc.ErrValidation) {
			t.Fatalf("New() error = %v, want ErrValidation", err)
		}
	})
	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "users.json")
		if err := os.WriteFile(path, []byte(`{"metadata": {}, "records": {}, "foo": 1}`), 0o600); err != nil {
			t.Fatal(err)
		}
		_, err := New[user](path, testMeta, nil)
		if !errors.Is(err, jsondoc.ErrDecode) {
			t.Fatalf("New() error = %v, want ErrDecode", err)
		}
	})
}

func TestStoreQueries(t *testing.T) {
	s, _ := setupStore(t, nil)

	t.Run("empty", func(t *testing.T) {
		if _, ok := s.First(); ok {
			t.Error("First() found a record")
		}
		if _, ok := s.Last(); ok {
			t.Error("Last() found a record")
		}
		if got := s.Count(); got != 0 {
			t.Errorf("Count() = %d, want 0", got)
		}
		if got := s.NextID(); got != 1 {
			t.Errorf("NextID() = %d, want 1", got)
		}
		if len(s.All()) != 0 {
			t.Errorf("All() = %v, want empty", s.All())
		}
	})

	created, err := s.Create(alice, bob, carol)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, ids(created)); diff != "" {
		t.Fatalf("Create() ids mismatch (-want +got):\n%s", diff)
	}

	t.Run("First and Last", func(t *testing.T) {
		if r, ok := s.First(); !ok || r.Data.Name != "Alice" || r.ID != 1 {
			t.Errorf("First() = %+v, %v", r, ok)
		}
		if r, ok := s.Last(); !ok || r.Data.Name != "Carol" || r.ID != 3 {
			t.Errorf("Last() = %+v, %v", r, ok)
		}
	})

	t.Run("Get", func(t *testing.T) {
		tests := []struct {
			name    string
			filters []Field
			wantID  int
			wantOK  bool
		}{
			{"no filter", nil, 1, true},
			{"by name", []Field{Eq("name", "Bob")}, 2, true},
			{"first of several", []Field{Eq("age", 30)}, 1, true},
			{"all filters", []Field{Eq("age", 30), Eq("name", "Carol")}, 3, true},
			{"float for int", []Field{Eq("age", 25.0)}, 2, true},
			{"no match", []Field{Eq("name", "Dave")}, 0, false},
			{"contradictory", []Field{Eq("name", "Bob"), Eq("age", 30)}, 0, false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				r, ok, err := s.Get(tt.filters...)
				if err != nil {
					t.Fatal(err)
				}
				if ok != tt.wantOK || r.ID != tt.wantID {
					t.Errorf("Get() = %d, %v, want %d, %v", r.ID, ok, tt.wantID, tt.wantOK)
				}
			})
		}
	})

	t.Run("invalid filters", func(t *testing.T) {
		tests := []struct {
			name   string
			filter Field
		}{
			{"unknown field", Eq("unknown", "x")},
			{"wrong type", Eq("age", "not-an-int")},
			{"fractional", Eq("age", 1.5)},
			{"nil for string", Eq("name", nil)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, _, err := s.Get(tt.filter); !errors.Is(err, jsondoc.ErrValidation) {
					t.Errorf("Get() error = %v, want ErrValidation", err)
				}
				if _, err := s.Exists(tt.filter); !errors.Is(err, jsondoc.ErrValidation) {
					t.Errorf("Exists() error = %v, want ErrValidation", err)
				}
				if _, err := s.Filter(tt.filter); !errors.Is(err, jsondoc.ErrValidation) {
					t.Errorf("Filter() error = %v, want ErrValidation", err)
				}
				if _, err := s.Delete(tt.filter); !errors.Is(err, jsondoc.ErrValidation) {
					t.Errorf("Delete() error = %v, want ErrValidation", err)
				}
				if _, err := s.Update(alice, Set(tt.filter.Name, tt.filter.Value)); !errors.Is(err, jsondoc.ErrValidation) {
					t.Errorf("Update() error = %v, want ErrValidation", err)
				}
			})
		}
		if got := s.Count(); got != 3 {
			t.Errorf("Count() = %d after rejected calls, want 3", got)
		}
	})

	t.Run("Exists", func(t *testing.T) {
		if ok, err := s.Exists(Eq("email", "b@x")); err != nil || !ok {
			t.Errorf("Exists(b@x) = %v, %v", ok, err)
		}
		if ok, err := s.Exists(Eq("email", "z@x")); err != nil || ok {
			t.Errorf("Exists(z@x) = %v, %v", ok, err)
		}
	})

	t.Run("Filter", func(t *testing.T) {
		got, err := s.Filter(Eq("age", 30))
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]int{1, 3}, ids(got)); diff != "" {
			t.Errorf("Filter() mismatch (-want +got):\n%s", diff)
		}
		got, err = s.Filter()
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]int{1, 2, 3}, ids(got)); diff != "" {
			t.Errorf("Filter() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("FilterFunc", func(t *testing.T) {
		got := s.FilterFunc(func(u user) bool { return strings.HasPrefix(u.Name, "C") || u.Age < 30 })
		if diff := cmp.Diff([]int{2, 3}, ids(got)); diff != "" {
			t.Errorf("FilterFunc() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("NextID", func(t *testing.T) {
		if got := s.NextID(); got != 4 {
			t.Errorf("NextID() = %d, want 4", got)
		}
	})
}

func TestStoreCreate(t *testing.T) {
	t.Run("skips whole-record duplicates", func(t *testing.T) {
		s, _ := setupStore(t, nil)
		created, err := s.Create(alice, alice, bob)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]int{1, 2}, ids(created)); diff != "" {
			t.Errorf("Create() mismatch (-want +got):\n%s", diff)
		}
		bob2 := bob
		bob2.Age = 26
		created, err = s.Create(bob, bob2)
		if err != nil {
			t.Fatal(err)
		}
		want := []Record[user]{{ID: 3, Data: bob2}}
		if diff := cmp.Diff(want, created); diff != "" {
			t.Errorf("Create() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unique fields", func(t *testing.T) {
		s, _ := setupStore(t, &Options{UniqueFields: []string{"email"}})
		other := user{Name: "Other Alice", Email: alice.Email}
		created, err := s.Create(alice, other)
		if err != nil {
			t.Fatal(err)
		}
		if len(created) != 1 || s.Count() != 1 {
			t.Fatalf("Create() = %v, Count() = %d, want one record", created, s.Count())
		}
		if r, _ := s.First(); r.Data.Name != "Alice" {
			t.Errorf("kept %q, want the first one", r.Data.Name)
		}
	})

	t.Run("nothing accepted writes nothing", func(t *testing.T) {
		s, path := setupStore(t, nil)
		if _, err := s.Create(alice); err != nil {
			t.Fatal(err)
		}
		before, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		created, err := s.Create(alice)
		if err != nil {
			t.Fatal(err)
		}
		if created == nil || len(created) != 0 {
			t.Errorf("Create() = %#v, want empty slice", created)
		}
		after, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(before, after) {
			t.Error("file rewritten although nothing was created")
		}
	})

	t.Run("validates all items first", func(t *testing.T) {
		s, _ := setupStore(t, nil)
		_, err := s.Create(alice, user{Email: "nobody@x"})
		if !errors.Is(err, jsondoc.ErrValidation) {
			t.Fatalf("Create() error = %v, want ErrValidation", err)
		}
		if s.Count() != 0 {
			t.Errorf("Count() = %d, want 0", s.Count())
		}
	})

	t.Run("Insert rejects duplicates", func(t *testing.T) {
		s, _ := setupStore(t, &Options{UniqueFields: []string{"email", "email"}})
		if _, err := s.Insert(alice); err != nil {
			t.Fatal(err)
		}
		_, err := s.Insert(bob, user{Name: "A2", Email: alice.Email})
		var derr *jsondoc.DuplicateError
		if !errors.As(err, &derr) || !errors.Is(err, jsondoc.ErrDuplicate) {
			t.Fatalf("Insert() error = %v, want *DuplicateError", err)
		}
		if diff := cmp.Diff([]string{"email"}, derr.Fields); diff != "" {
			t.Errorf("Fields mismatch (-want +got):\n%s", diff)
		}
		if s.Count() != 1 {
			t.Errorf("Count() = %d, want 1", s.Count())
		}
	})

	t.Run("persists", func(t *testing.T) {
		s, path := setupStore(t, nil)
		if _, err := s.Create(alice, bob); err != nil {
			t.Fatal(err)
		}
		s2, err := New[user](path, testMeta, nil)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(s.All(), s2.All()); diff != "" {
			t.Errorf("reopened store mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStoreUpdate(t *testing.T) {
	t.Run("sets fields", func(t *testing.T) {
		s, _ := setupStore(t, nil)
		if _, err := s.Create(alice, bob); err != nil {
			t.Fatal(err)
		}
		got, err := s.Update(alice, Set("email", "alice@x"), Set("age", int64(31)))
		if err != nil {
			t.Fatal(err)
		}
		want := Record[user]{ID: 1, Data: user{Name: "Alice", Email: "alice@x", Age: 31}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Update() mismatch (-want +got):\n%s", diff)
		}
		if r, _, _ := s.Get(Eq("name", "Alice")); r.Data.Email != "alice@x" {
			t.Errorf("stored = %+v", r)
		}
		if diff := cmp.Diff([]int{1, 2}, ids(s.All())); diff != "" {
			t.Errorf("ids mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("not found", func(t *testing.T) {
		s, _ := setupStore(t, nil)
		if _, err := s.Create(alice); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Update(bob, Set("age", 1)); !errors.Is(err, jsondoc.ErrNotFound) {
			t.Fatalf("Update() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("invalid result", func(t *testing.T) {
		s, _ := setupStore(t, nil)
		if _, err := s.Create(alice); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Update(alice, Set("name", "")); !errors.Is(err, jsondoc.ErrValidation) {
			t.Fatalf("Update() error = %v, want ErrValidation", err)
		}
		if r, _ := s.First(); r.Data.Name != "Alice" {
			t.Errorf("stored = %+v", r)
		}
	})

	t.Run("unique collision", func(t *testing.T) {
		s, _ := setupStore(t, &Options{UniqueFields: []string{"email"}})
		if _, err := s.Create(alice, bob); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Update(bob, Set("email", alice.Email)); !errors.Is(err, jsondoc.ErrDuplicate) {
			t.Fatalf("Update() error = %v, want ErrDuplicate", err)
		}
		// Keeping its own value is not a collision.
		if _, err := s.Update(bob, Set("email", bob.Email), Set("age", 99)); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("UpdateFunc", func(t *testing.T) {
		s, _ := setupStore(t, nil)
		if _, err := s.Create(alice, bob); err != nil {
			t.Fatal(err)
		}
		got, err := s.UpdateFunc(2, func(u *user) error {
			u.Tags = append(u.Tags, "vip")
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"vip"}, got.Data.Tags); diff != "" {
			t.Errorf("UpdateFunc() mismatch (-want +got):\n%s", diff)
		}
		if _, err := s.UpdateFunc(9, func(*user) error { return nil }); !errors.Is(err, jsondoc.ErrNotFound) {
			t.Errorf("UpdateFunc(9) error = %v, want ErrNotFound", err)
		}
		boom := errors.New("boom")
		if _, err := s.UpdateFunc(1, func(*user) error { return boom }); !errors.Is(err, boom) {
			t.Errorf("UpdateFunc() error = %v, want boom", err)
		}
	})
}

func TestStoreDelete(t *testing.T) {
	t.Run("re-keys", func(t *testing.T) {
		s, _ := setupStore(t, nil)
		if _, err := s.Create(alice, bob, carol); err != nil {
			t.Fatal(err)
		}
		removed, err := s.Delete(Eq("name", "Bob"))
		if err != nil {
			t.Fatal(err)
		}
		want := []Record[user]{{ID: 2, Data: bob}}
		if diff := cmp.Diff(want, removed); diff != "" {
			t.Errorf("Delete() mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]int{1, 2}, ids(s.All())); diff != "" {
			t.Errorf("ids mismatch (-want +got):\n%s", diff)
		}
		if r, _ := s.Last(); r.Data.Name != "Carol" {
			t.Errorf("Last() = %+v, want Carol", r)
		}
		if got := s.NextID(); got != 3 {
			t.Errorf("NextID() = %d, want 3", got)
		}
	})

	t.Run("stable ids", func(t *testing.T) {
		s, _ := setupStore(t, &Options{StableIDs: true})
		if _, err := s.Create(alice, bob, carol); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Delete(Eq("name", "Bob")); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]int{1, 3}, ids(s.All())); diff != "" {
			t.Errorf("ids mismatch (-want +got):\n%s", diff)
		}
		created, err := s.Create(bob)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]int{4}, ids(created)); diff != "" {
			t.Errorf("Create() ids mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("first match only", func(t *testing.T) {
		s, _ := setupStore(t, nil)
		if _, err := s.Create(alice, bob, carol); err != nil {
			t.Fatal(err)
		}
		removed, err := s.Delete(Eq("age", 30))
		if err != nil {
			t.Fatal(err)
		}
		if len(removed) != 1 || removed[0].Data.Name != "Alice" {
			t.Errorf("Delete() = %+v", removed)
		}
		if s.Count() != 2 {
			t.Errorf("Count() = %d, want 2", s.Count())
		}
	})

	t.Run("no match", func(t *testing.T) {
		s, _ := setupStore(t, nil)
		removed, err := s.Delete(Eq("name", "Nobody"))
		if err != nil {
			t.Fatal(err)
		}
		if removed == nil || len(removed) != 0 {
			t.Errorf("Delete() = %#v, want empty slice", removed)
		}
	})
}

func TestStoreScenario(t *testing.T) {
	s, path := setupStore(t, &Options{UniqueFields: []string{"email"}})
	a := user{Name: "A", Email: "a@x"}
	b := user{Name: "B", Email: "b@x"}
	if _, err := s.Create(a, b); err != nil {
		t.Fatal(err)
	}
	updated, err := s.Update(a, Set("email", "a2@x"))
	if err != nil {
		t.Fatal(err)
	}
	if updated.ID != 1 || updated.Data.Email != "a2@x" {
		t.Errorf("Update() = %+v", updated)
	}
	removed, err := s.Delete(Eq("name", "A"))
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0].Data.Email != "a2@x" {
		t.Errorf("Delete() = %+v, want the updated A", removed)
	}
	want := []Record[user]{{ID: 1, Data: b}}
	if diff := cmp.Diff(want, s.All()); diff != "" {
		t.Errorf("All() mismatch (-want +got):\n%s", diff)
	}
	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}

	// The file agrees with memory.
	if err := s.Refresh(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, s.All()); diff != "" {
		t.Errorf("All() after Refresh mismatch (-want +got):\n%s", diff)
	}

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	s2, err := New[user](path, testMeta, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s2.Count() != 0 {
		t.Errorf("Count() after Clear = %d, want 0", s2.Count())
	}
	if got := s2.Manager().Metadata().Title; got != testMeta.Title {
		t.Errorf("Title = %q, want %q", got, testMeta.Title)
	}
}

func TestWriteYAML(t *testing.T) {
	s, _ := setupStore(t, nil)
	if _, err := s.Create(user{Name: "A", Email: "a@x", Tags: []string{"1"}}, user{Name: "B", Email: "b@x"}); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := s.WriteYAML(&buf); err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	for _, want := range []string{
		"metadata:\n  version: 1.0.0\n  title: Users\n",
		"records:\n  \"1\":\n    name: A\n    email: a@x\n    tags:\n",
		"- \"1\"\n",
		"  \"2\":\n    name: B\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("WriteYAML() missing %q in:\n%s", want, got)
		}
	}
}
