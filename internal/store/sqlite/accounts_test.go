package sqlite

import (
	"context"
	"errors"
	"testing"

	"presale_sniper/internal/model"
)

func TestFetchAccountsSkipsMissing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	alice, err := s.UpsertAccount(ctx, model.Account{Name: "alice", Token: "t-a"})
	if err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	bob, err := s.UpsertAccount(ctx, model.Account{Name: "bob", Token: "t-b"})
	if err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}

	got, err := s.FetchAccounts(ctx, []string{alice.ID, "ghost", bob.ID})
	if err != nil {
		t.Fatalf("FetchAccounts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(FetchAccounts) = %d, want 2", len(got))
	}
	tokens := map[string]string{}
	for _, acc := range got {
		tokens[acc.Name] = acc.Token
	}
	if tokens["alice"] != "t-a" || tokens["bob"] != "t-b" {
		t.Errorf("tokens = %v", tokens)
	}

	if none, err := s.FetchAccounts(ctx, nil); err != nil || len(none) != 0 {
		t.Errorf("FetchAccounts(nil) = %v, %v", none, err)
	}
}

func TestUpsertAccountUpdatesToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	acc, err := s.UpsertAccount(ctx, model.Account{Name: "carol", Token: "old"})
	if err != nil {
		t.Fatalf("UpsertAccount: %v", err)
	}
	acc.Token = "new"
	if _, err := s.UpsertAccount(ctx, acc); err != nil {
		t.Fatalf("UpsertAccount(update): %v", err)
	}
	got, err := s.GetAccount(ctx, acc.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Token != "new" {
		t.Errorf("Token = %q, want new", got.Token)
	}
	list, _ := s.ListAccounts(ctx)
	if len(list) != 1 {
		t.Errorf("len(ListAccounts) = %d, want 1", len(list))
	}

	if _, err := s.UpsertAccount(ctx, model.Account{Name: "  "}); err == nil {
		t.Error("UpsertAccount without name should fail")
	}
	if err := s.DeleteAccount(ctx, acc.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if _, err := s.GetAccount(ctx, acc.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("GetAccount after delete err = %v, want ErrNotFound", err)
	}
}
