package task

import (
	"context"
	"fmt"
	"io"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/events"
	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

// FollowTaskLog writes the task's output so far to w and then streams new
// output as it is produced, returning once the task reaches a terminal
// state or ctx is done.
//
// The subscription is opened before the snapshot is read and output
// events carry byte offsets, so text appended between the two steps is
// neither lost nor written twice.
func (o *Orchestrator) FollowTaskLog(ctx context.Context, id string, w io.Writer) error {
	offset := 0
	for {
		sub := o.hub.Subscribe(events.TaskTopic(id), 0)
		done, err := o.catchUp(ctx, id, w, &offset)
		if err != nil || done {
			sub.Close()
			return err
		}

		done, err = o.stream(ctx, sub, w, &offset)
		sub.Close()
		if err != nil || done {
			return err
		}
		// The hub dropped us for falling behind; resync from the store.
	}
}

// catchUp writes whatever the store holds beyond *offset and reports
// whether the task is already finished.
func (o *Orchestrator) catchUp(ctx context.Context, id string, w io.Writer, offset *int) (bool, error) {
	t, err := o.store.GetTask(ctx, id)
	if err != nil {
		return false, err
	}
	if len(t.Output) > *offset {
		if _, err := io.WriteString(w, t.Output[*offset:]); err != nil {
			return false, fmt.Errorf("write task log: %w", err)
		}
		*offset = len(t.Output)
	}
	return t.Status.IsTerminal(), nil
}

// stream forwards live events until the task finishes (true), the
// subscription is dropped (false, nil) or ctx ends.
func (o *Orchestrator) stream(ctx context.Context, sub *events.Subscription, w io.Writer, offset *int) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case ev, ok := <-sub.C:
			if !ok {
				return false, nil
			}
			switch ev.Kind {
			case events.TaskOutput:
				end := ev.Offset + len(ev.Chunk)
				if end <= *offset {
					continue
				}
				start := 0
				if *offset > ev.Offset {
					start = *offset - ev.Offset
				}
				if _, err := io.WriteString(w, ev.Chunk[start:]); err != nil {
					return true, fmt.Errorf("write task log: %w", err)
				}
				*offset = end
			case events.TaskStatus:
				if model.TaskStatus(ev.Status).IsTerminal() {
					return true, nil
				}
			case events.ProjectStatus, events.ProjectDeleted:
			}
		}
	}
}
