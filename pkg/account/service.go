package account

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// EnsureLocal creates the LOCAL account the first time the store holds no accounts at all,
// and returns the LOCAL account when one exists.
func (s *Service) EnsureLocal(ctx context.Context) (Account, error) {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("failed to count accounts: %w", err)
	}
	if count == 0 {
		local := Account{Email: LocalEmail, Type: Local, UserInfo: UserInfo{Email: LocalEmail, DisplayName: "Local"}}
		id, err := s.repo.Insert(ctx, local)
		if err != nil {
			return Account{}, fmt.Errorf("failed to create local account: %w", err)
		}
		local.Id = id
		log.Infof("created local account (id %d)", id)
		return local, nil
	}

	local, found, err := s.FindLocal(ctx)
	if err != nil {
		return Account{}, err
	}
	if !found {
		log.Debug("store has accounts but no LOCAL one; local events will have no owner")
	}
	return local, nil
}

func (s *Service) FindLocal(ctx context.Context) (Account, bool, error) {
	accounts, err := s.repo.GetAll(ctx)
	if err != nil {
		return Account{}, false, fmt.Errorf("failed to list accounts: %w", err)
	}
	for _, a := range accounts {
		if a.Type == Local {
			return a, true, nil
		}
	}
	return Account{}, false, nil
}

// Link stores a newly linked provider account.
func (s *Service) Link(ctx context.Context, account Account) (Account, error) {
	if account.Type == Local || account.Type == Invalid || account.Type == NotInherited {
		return Account{}, fmt.Errorf("cannot link account of type %s", account.Type)
	}
	if account.Email == "" {
		return Account{}, fmt.Errorf("account email is required")
	}
	id, err := s.repo.Insert(ctx, account)
	if err != nil {
		return Account{}, fmt.Errorf("failed to link account: %w", err)
	}
	account.Id = id
	log.Infof("linked %s account %s (id %d)", account.Type, account.Email, id)
	return account, nil
}

func (s *Service) List(ctx context.Context) ([]Account, error) {
	return s.repo.GetAll(ctx)
}

func (s *Service) Unlink(ctx context.Context, id int64) error {
	return s.repo.Remove(ctx, id)
}
