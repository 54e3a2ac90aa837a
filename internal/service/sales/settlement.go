package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mamadbah2/lounge/internal/domain/models"
	"github.com/mamadbah2/lounge/internal/repository"
)

// Settlement results.
const (
	SettledConfirmed = "confirmed"
	SettledDeleted   = "deleted"
	SettledSkipped   = "skipped"
)

// SettlePending resolves pending sales and credit sales carrying ref that were left behind by
// an interrupted transaction: a row is confirmed when its reservation was applied on the item,
// otherwise the reservation is tombstoned and the row deleted. Both collections are settled
// since a reference is unique per collection only. Settling an already settled reference is
// a no-op.
func (s *Service) SettlePending(ctx context.Context, ref string) (string, error) {
	result := SettledSkipped
	found := false

	sale, err := s.sales.FindByRef(ctx, ref)
	switch {
	case err == nil:
		found = true
		r, err := s.settleSale(ctx, *sale)
		if err != nil {
			return "", err
		}
		if r != SettledSkipped {
			result = r
		}
	case !errors.Is(err, repository.ErrNotFound):
		return "", fmt.Errorf("failed to load sale %s: %w", ref, err)
	}

	credit, err := s.credits.FindByRef(ctx, ref)
	switch {
	case err == nil:
		found = true
		r, err := s.settleCredit(ctx, *credit)
		if err != nil {
			return "", err
		}
		if r != SettledSkipped {
			result = r
		}
	case !errors.Is(err, repository.ErrNotFound):
		return "", fmt.Errorf("failed to load credit sale %s: %w", ref, err)
	}

	if !found {
		s.metrics.ObserveSettlement(SettledSkipped)
	}
	return result, nil
}

func (s *Service) settleSale(ctx context.Context, sale models.SaleRecord) (string, error) {
	if sale.Status == models.StatusConfirmed {
		s.metrics.ObserveSettlement(SettledSkipped)
		return SettledSkipped, nil
	}
	ref := sale.TransactionRef
	key := sale.ReservationKey()

	applied, err := s.settleReservation(ctx, sale.ItemID, key)
	if err != nil {
		return "", err
	}
	now := s.timestamp()

	if applied {
		if err := s.sales.Confirm(ctx, ref, now); err != nil {
			return "", fmt.Errorf("failed to confirm sale %s: %w", ref, err)
		}
		if sale.CreditSaleID != nil {
			if err := s.credits.MarkStockReserved(ctx, *sale.CreditSaleID, now); err != nil {
				return "", fmt.Errorf("failed to flag credit sale reserved: %w", err)
			}
			if err := s.credits.LinkSale(ctx, *sale.CreditSaleID, sale.ID, now); err != nil {
				s.logger.Warn("failed to link companion sale", zap.String("transaction_ref", ref), zap.Error(err))
			}
		}
		s.release(ctx, sale.ItemID, key)
		s.metrics.ObserveSettlement(SettledConfirmed)
		s.logger.Info("pending sale confirmed", zap.String("transaction_ref", ref))
		return SettledConfirmed, nil
	}

	removed, err := s.sales.DeletePending(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to delete pending sale %s: %w", ref, err)
	}
	if !removed {
		// confirmed or removed by someone else since it was read
		s.metrics.ObserveSettlement(SettledSkipped)
		return SettledSkipped, nil
	}
	if sale.CreditSaleID != nil && sale.PaymentDate != nil {
		if err := s.credits.RevertPaid(ctx, *sale.CreditSaleID, sale.PaymentDate.UTC()); err != nil {
			return "", fmt.Errorf("failed to revert credit payment for %s: %w", ref, err)
		}
	}
	s.metrics.ObserveSettlement(SettledDeleted)
	s.logger.Info("pending sale deleted", zap.String("transaction_ref", ref))
	return SettledDeleted, nil
}

func (s *Service) settleCredit(ctx context.Context, credit models.CreditSaleRecord) (string, error) {
	if credit.Status == models.StatusConfirmed {
		s.metrics.ObserveSettlement(SettledSkipped)
		return SettledSkipped, nil
	}
	ref := credit.TransactionRef
	key := credit.ReservationKey()

	applied, err := s.settleReservation(ctx, credit.ItemID, key)
	if err != nil {
		return "", err
	}
	if applied {
		if err := s.credits.Confirm(ctx, ref, s.timestamp()); err != nil {
			return "", fmt.Errorf("failed to confirm credit sale %s: %w", ref, err)
		}
		s.release(ctx, credit.ItemID, key)
		s.metrics.ObserveSettlement(SettledConfirmed)
		s.logger.Info("pending credit sale confirmed", zap.String("transaction_ref", ref))
		return SettledConfirmed, nil
	}

	removed, err := s.credits.DeletePending(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to delete pending credit sale %s: %w", ref, err)
	}
	if !removed {
		s.metrics.ObserveSettlement(SettledSkipped)
		return SettledSkipped, nil
	}
	s.metrics.ObserveSettlement(SettledDeleted)
	s.logger.Info("pending credit sale deleted", zap.String("transaction_ref", ref))
	return SettledDeleted, nil
}

// settleReservation reports whether the decrement under key landed. When it did not, key is
// tombstoned before the caller deletes the row.
func (s *Service) settleReservation(ctx context.Context, itemID primitive.ObjectID, key string) (bool, error) {
	_, applied, err := s.stock.CancelReservation(ctx, itemID, key)
	if err != nil {
		return false, fmt.Errorf("cannot settle %s: %w", key, err)
	}
	return applied, nil
}

// SweepPending settles every pending row older than grace. It keeps going past individual
// failures and returns the first one.
func (s *Service) SweepPending(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := s.timestamp().Add(-grace)

	sales, err := s.sales.ListPending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending sales: %w", err)
	}
	credits, err := s.credits.ListPending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending credit sales: %w", err)
	}

	settled := 0
	var firstErr error
	tally := func(ref string, result string, err error) {
		if err != nil {
			s.logger.Error("failed to settle pending record", zap.String("transaction_ref", ref), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		if result != SettledSkipped {
			settled++
		}
	}
	for _, sale := range sales {
		result, err := s.settleSale(ctx, sale)
		tally(sale.TransactionRef, result, err)
	}
	for _, credit := range credits {
		result, err := s.settleCredit(ctx, credit)
		tally(credit.TransactionRef, result, err)
	}

	if pending := len(sales) + len(credits); pending > 0 {
		s.logger.Info("pending sweep finished", zap.Int("pending", pending), zap.Int("settled", settled))
	}
	return settled, firstErr
}
