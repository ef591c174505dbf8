package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"spoolhub/pkg/domain"
	"spoolhub/pkg/workflow"
)

func (a *App) ListOrders(ctx context.Context, userID string) (Result, error) {
	orders, err := a.store.Orders().FindAll(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	return okResult(orders), nil
}

func (a *App) GetOrder(ctx context.Context, userID, id string) (Result, error) {
	order, err := a.store.Orders().FindOne(ctx, id, userID)
	if err != nil {
		return Result{}, err
	}
	return okResult(order), nil
}

// CreateOrder takes the next number from the owner's counter and writes
// the order in the same transaction, so a failed write gives the number back.
func (a *App) CreateOrder(ctx context.Context, userID string, in OrderInput) (Result, error) {
	planned, err := a.plannedCompletion(in.PlannedCompletionAt)
	if err != nil {
		return Result{}, err
	}
	items := orderItems(in.Items)
	ids, err := a.runner.Run(ctx, "create_order", func(u *workflow.Unit) error {
		number, err := u.Repos().Settings().NextOrderNumber(u.Context(), userID)
		if err != nil {
			return err
		}
		order, err := u.Repos().Orders().Create(u.Context(), domain.Order{
			Owned:       domain.Owned{UserID: userID},
			Name:        strings.TrimSpace(in.Name),
			Number:      number,
			Value:       domain.OrderValue(items),
			ExtraCost:   in.ExtraCost,
			Description: in.Description,
			Customer: domain.Customer{
				Name:        strings.TrimSpace(in.Customer.Name),
				PhoneNumber: strings.TrimSpace(in.Customer.PhoneNumber),
			},
			Items:               items,
			PlannedCompletionAt: planned,
		})
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{OrderID: order.ID})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return createdResult(ids), nil
}

// UpdateOrder edits an open order. Completed and archivised orders are frozen.
func (a *App) UpdateOrder(ctx context.Context, userID, id string, in OrderPatch) (Result, error) {
	var planned *time.Time
	if in.PlannedCompletionAt != nil {
		t, err := a.plannedCompletion(*in.PlannedCompletionAt)
		if err != nil {
			return Result{}, err
		}
		planned = &t
	}
	ids, err := a.runner.Run(ctx, "modify_order", func(u *workflow.Unit) error {
		order, err := u.Repos().Orders().Update(u.Context(), id, userID, func(o *domain.Order) error {
			if o.ArchivisedAt != nil {
				return domain.InvalidInput("Cannot modify archivised order", "archivisedAt")
			}
			if o.CompletedAt != nil {
				return domain.InvalidInput("Cannot modify completed order", "completedAt")
			}
			setIf(&o.Name, in.Name)
			setIf(&o.ExtraCost, in.ExtraCost)
			setIf(&o.Description, in.Description)
			if c := in.Customer; c != nil {
				setIf(&o.Customer.Name, c.Name)
				setIf(&o.Customer.PhoneNumber, c.PhoneNumber)
			}
			if in.Items != nil {
				o.Items = orderItems(*in.Items)
				o.Value = domain.OrderValue(o.Items)
			}
			setIf(&o.PlannedCompletionAt, planned)
			return nil
		})
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{OrderID: order.ID})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return okResult(ids), nil
}

func (a *App) CompleteOrder(ctx context.Context, userID, id string) (Result, error) {
	ids, err := a.runner.Run(ctx, "complete_order", func(u *workflow.Unit) error {
		order, err := u.Repos().Orders().Update(u.Context(), id, userID, func(o *domain.Order) error {
			if o.CompletedAt != nil {
				return domain.InvalidInput(fmt.Sprintf("Order %s #%d is completed", o.Name, o.Number), "completedAt")
			}
			now := a.now().UTC()
			o.CompletedAt = &now
			return nil
		})
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{OrderID: order.ID})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return okResult(ids), nil
}

// ArchiveOrder requires a completed order that is not archivised yet.
func (a *App) ArchiveOrder(ctx context.Context, userID, id string) (Result, error) {
	ids, err := a.runner.Run(ctx, "archive_order", func(u *workflow.Unit) error {
		order, err := u.Repos().Orders().Update(u.Context(), id, userID, func(o *domain.Order) error {
			if o.CompletedAt == nil {
				return domain.InvalidInput("Cannot archivise not completed order", "completedAt")
			}
			if o.ArchivisedAt != nil {
				return domain.InvalidInput(fmt.Sprintf("Order %s #%d is archivised", o.Name, o.Number), "archivisedAt")
			}
			now := a.now().UTC()
			o.ArchivisedAt = &now
			return nil
		})
		if err != nil {
			return err
		}
		u.Track(workflow.IDs{OrderID: order.ID})
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return okResult(ids), nil
}

func (a *App) DeleteOrder(ctx context.Context, userID, id string, mode domain.DeleteMode) (Result, error) {
	_, err := a.runner.Run(ctx, "delete_order", func(u *workflow.Unit) error {
		if mode == domain.DeleteHard {
			return u.Repos().Orders().HardDelete(u.Context(), id, userID)
		}
		return u.Repos().Orders().SoftDelete(u.Context(), id, userID)
	})
	if err != nil {
		return Result{}, err
	}
	return noContentResult(), nil
}

// plannedCompletion parses raw and truncates it to the day; days before
// today are rejected.
func (a *App) plannedCompletion(raw string) (time.Time, error) {
	t, err := parseDate(raw)
	if err != nil {
		return time.Time{}, domain.InvalidInput("plannedCompletionAt must be a valid ISO 8601 date string", "plannedCompletionAt")
	}
	day := truncateDay(t)
	if day.Before(a.today()) {
		return time.Time{}, domain.InvalidInput(msgPlannedInPast, "plannedCompletionAt")
	}
	return day, nil
}
