package account

import (
	"context"
	"fmt"
	"sort"
)

// RepositoryStub keeps accounts in memory. Fail* hooks inject persistence errors.
type RepositoryStub struct {
	accounts map[int64]Account
	nextId   int64

	UpdateCalls int
	FailInsert  func(account Account) error
	FailUpdate  func(account Account) error
	FailGetAll  error
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{accounts: map[int64]Account{}, nextId: 1}
}

func (s *RepositoryStub) Insert(ctx context.Context, account Account) (int64, error) {
	if s.FailInsert != nil {
		if err := s.FailInsert(account); err != nil {
			return 0, err
		}
	}
	for _, existing := range s.accounts {
		if existing.Email == account.Email {
			return 0, fmt.Errorf("account with email %s already exists", account.Email)
		}
	}
	account.Id = s.nextId
	s.nextId++
	s.accounts[account.Id] = account
	return account.Id, nil
}

func (s *RepositoryStub) Update(ctx context.Context, account Account) error {
	s.UpdateCalls++
	if s.FailUpdate != nil {
		if err := s.FailUpdate(account); err != nil {
			return err
		}
	}
	if _, ok := s.accounts[account.Id]; !ok {
		return ErrAccountNotFound
	}
	s.accounts[account.Id] = account
	return nil
}

func (s *RepositoryStub) Get(ctx context.Context, id int64) (Account, error) {
	account, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (s *RepositoryStub) GetAll(ctx context.Context) ([]Account, error) {
	if s.FailGetAll != nil {
		return nil, s.FailGetAll
	}
	accounts := make([]Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Id < accounts[j].Id })
	return accounts, nil
}

func (s *RepositoryStub) Count(ctx context.Context) (int, error) {
	return len(s.accounts), nil
}

func (s *RepositoryStub) Remove(ctx context.Context, id int64) error {
	if _, ok := s.accounts[id]; !ok {
		return ErrAccountNotFound
	}
	delete(s.accounts, id)
	return nil
}

func (s *RepositoryStub) Cleanup() {
	s.accounts = map[int64]Account{}
	s.nextId = 1
	s.UpdateCalls = 0
	s.FailInsert = nil
	s.FailUpdate = nil
	s.FailGetAll = nil
}
