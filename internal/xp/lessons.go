package xp

import (
	"context"
	"errors"
	"fmt"

	"github.com/snips/portfolio-engine/internal/model"
	"github.com/snips/portfolio-engine/internal/store"
)

// CompleteLesson records a lesson completion and credits the first-time
// XP when the user had never completed it before. It reports whether the
// completion was the first. A failed XP credit does not undo the record.
func (e *Engine) CompleteLesson(ctx context.Context, userID, lessonID string) (bool, error) {
	now := e.now().UTC()
	first := false

	err := e.store.RunInTx(ctx, func(q store.Queries) error {
		if _, err := q.GetUser(ctx, userID); err != nil {
			return err
		}
		l, err := q.GetUserLesson(ctx, userID, lessonID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			first = true
			return q.InsertUserLesson(ctx, &model.UserLesson{UserID: userID, LessonID: lessonID, CompletedAt: now})
		case err != nil:
			return err
		}
		l.CompletedAt = now
		return q.UpdateUserLesson(ctx, l)
	})
	if err != nil {
		return false, fmt.Errorf("complete lesson %s: %w", lessonID, err)
	}

	if first {
		detail := "LESSON=" + lessonID
		if _, err := e.Credit(ctx, userID, e.cfg.LessonFirstTime, model.XPCompleteLessonFirstTime, &detail); err != nil {
			swallow(model.XPCompleteLessonFirstTime, userID, err)
		}
	}
	return first, nil
}
