package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"tutupkas/backend/internal/domain"
	"tutupkas/backend/internal/store"
	"tutupkas/backend/internal/wizard"
	"tutupkas/backend/internal/xid"
)

var ErrSessionNotFound = errors.New("wizard session not found")

// WizardView is what an operator sees of a running closing.
type WizardView struct {
	ID           string         `json:"id"`
	Step         int            `json:"step"`
	StepName     string         `json:"step_name"`
	BranchLocked bool           `json:"branch_locked"`
	Draft        wizard.Draft   `json:"draft"`
	Balance      wizard.Balance `json:"balance"`
}

type CommitResult struct {
	Wizard     WizardView                `json:"wizard"`
	Settlement domain.SettlementResponse `json:"result"`
}

type LineRequest struct {
	Kind   wizard.LineKind `json:"kind"`
	Name   string          `json:"name"`
	Amount string          `json:"amount"`
}

type LineUpdateRequest struct {
	Name   *string `json:"name,omitempty"`
	Amount *string `json:"amount,omitempty"`
}

func newView(id string, st wizard.State) WizardView {
	return WizardView{
		ID:           id,
		Step:         int(st.Step),
		StepName:     st.Step.String(),
		BranchLocked: st.BranchLocked(),
		Draft:        st.Draft,
		Balance:      st.Live(),
	}
}

func (s *Service) StartWizard(ctx context.Context) (WizardView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return WizardView{}, err
	}
	return s.openSession(ctx, wizard.New(actor, s.now()))
}

// StartEdit opens a wizard over an existing settlement. Committing it replaces
// the settlement under the same ID.
func (s *Service) StartEdit(ctx context.Context, settlementID string) (WizardView, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return WizardView{}, err
	}
	existing, err := s.repo.GetSettlement(ctx, strings.TrimSpace(settlementID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return WizardView{}, err
		}
		return WizardView{}, &domain.StoreError{Op: "get settlement", Err: err}
	}
	return s.openSession(ctx, wizard.FromSettlement(actor, *existing))
}

func (s *Service) openSession(ctx context.Context, st wizard.State) (WizardView, error) {
	id := xid.New("wiz")
	if err := s.drafts.Set(ctx, id, st, s.draftTTL); err != nil {
		return WizardView{}, &domain.StoreError{Op: "save wizard", Err: err}
	}
	s.logger.Debug("wizard started", zap.String("wizard_id", id), zap.String("actor", st.Operator.Username))
	return newView(id, st), nil
}

func (s *Service) GetWizard(ctx context.Context, id string) (WizardView, error) {
	st, err := s.loadSession(ctx, id)
	if err != nil {
		return WizardView{}, err
	}
	return newView(id, st), nil
}

func (s *Service) PatchWizard(ctx context.Context, id string, patch wizard.Patch) (WizardView, error) {
	return s.transition(ctx, id, func(st wizard.State) (wizard.State, error) {
		return st.Apply(patch)
	})
}

func (s *Service) AddLine(ctx context.Context, id string, req LineRequest) (WizardView, string, error) {
	var lineID string
	view, err := s.transition(ctx, id, func(st wizard.State) (wizard.State, error) {
		next, added, err := st.AddLine(req.Kind, req.Name, req.Amount)
		lineID = added
		return next, err
	})
	return view, lineID, err
}

func (s *Service) UpdateLine(ctx context.Context, id string, lineID string, req LineUpdateRequest) (WizardView, error) {
	return s.transition(ctx, id, func(st wizard.State) (wizard.State, error) {
		return st.UpdateLine(lineID, req.Name, req.Amount)
	})
}

func (s *Service) RemoveLine(ctx context.Context, id string, lineID string) (WizardView, error) {
	return s.transition(ctx, id, func(st wizard.State) (wizard.State, error) {
		return st.RemoveLine(lineID)
	})
}

func (s *Service) Next(ctx context.Context, id string) (WizardView, error) {
	return s.transition(ctx, id, wizard.State.Next)
}

func (s *Service) Back(ctx context.Context, id string) (WizardView, error) {
	return s.transition(ctx, id, wizard.State.Back)
}

// Commit persists the draft through Create. On failure the session is left as
// it was so the operator can retry; on success the draft is retired.
func (s *Service) Commit(ctx context.Context, id string) (CommitResult, error) {
	st, err := s.loadSession(ctx, id)
	if err != nil {
		return CommitResult{}, err
	}

	var result domain.SettlementResponse
	save := func(ctx context.Context, settlement domain.Settlement) (domain.Settlement, error) {
		resp, err := s.Create(ctx, settlement)
		if err != nil {
			return domain.Settlement{}, err
		}
		result = resp
		return resp.Settlement.Settlement, nil
	}

	done, _, err := st.Commit(ctx, s.now(), save)
	if err != nil {
		return CommitResult{Wizard: newView(id, st)}, err
	}
	s.retire(ctx, id, done)
	return CommitResult{Wizard: newView(id, done), Settlement: result}, nil
}

// retire removes a committed session. When the delete fails the committed
// state overwrites the draft, so a repeated commit is refused with
// ErrInvalidStep instead of saving the closing twice.
func (s *Service) retire(ctx context.Context, id string, done wizard.State) {
	delErr := s.drafts.Delete(ctx, id)
	if delErr == nil {
		return
	}
	if err := s.drafts.Set(ctx, id, done, s.draftTTL); err != nil {
		s.logger.Error("committed wizard still holds its draft",
			zap.String("wizard_id", id), zap.NamedError("delete_error", delErr), zap.Error(err))
		return
	}
	s.logger.Warn("failed to discard committed wizard", zap.String("wizard_id", id), zap.Error(delErr))
}

func (s *Service) Abandon(ctx context.Context, id string) error {
	if _, err := s.loadSession(ctx, id); err != nil {
		return err
	}
	if err := s.drafts.Delete(ctx, id); err != nil {
		return &domain.StoreError{Op: "delete wizard", Err: err}
	}
	return nil
}

func (s *Service) transition(ctx context.Context, id string, step func(wizard.State) (wizard.State, error)) (WizardView, error) {
	st, err := s.loadSession(ctx, id)
	if err != nil {
		return WizardView{}, err
	}
	next, err := step(st)
	if err != nil {
		return newView(id, st), err
	}
	if err := s.drafts.Set(ctx, id, next, s.draftTTL); err != nil {
		return newView(id, st), &domain.StoreError{Op: "save wizard", Err: err}
	}
	return newView(id, next), nil
}

// loadSession returns the caller's own session. Another operator's session is
// reported as missing.
func (s *Service) loadSession(ctx context.Context, id string) (wizard.State, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return wizard.State{}, err
	}
	st, ok, err := s.drafts.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return wizard.State{}, &domain.StoreError{Op: "load wizard", Err: err}
	}
	if !ok || st.Operator.Username != actor.Username {
		return wizard.State{}, ErrSessionNotFound
	}
	return *st, nil
}
