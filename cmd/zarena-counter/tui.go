package main

import (
	"context"
	"fmt"
	"time"

	"github.com/arenamesh/zarena/internal/v1/arenanode"
	"github.com/arenamesh/zarena/internal/v1/engine/counter"
	"github.com/nsf/termbox-go"
)

// runTUI paints the current role and counter value in a terminal,
// reading '+'/'-' as increment/decrement and 'q' to quit. It runs
// until ctx is canceled or the user quits.
func runTUI(ctx context.Context, node *arenanode.Node[counter.Action, counter.State]) error {
	if err := termbox.Init(); err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	defer termbox.Close()

	events := make(chan termbox.Event)
	go func() {
		for {
			events <- termbox.PollEvent()
		}
	}()

	redraw(node)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			redraw(node)
		case ev := <-events:
			if ev.Type != termbox.EventKey {
				continue
			}
			switch ev.Ch {
			case '+':
				send(ctx, node, counter.Action{Kind: counter.Increment})
			case '-':
				send(ctx, node, counter.Action{Kind: counter.Decrement})
			case 'q':
				return nil
			}
			if ev.Key == termbox.KeyCtrlC || ev.Key == termbox.KeyEsc {
				return nil
			}
			redraw(node)
		}
	}
}

func redraw(node *arenanode.Node[counter.Action, counter.State]) {
	termbox.Clear(termbox.ColorDefault, termbox.ColorDefault)
	printAt(0, 0, fmt.Sprintf("node    %s", node.ID()))
	printAt(0, 1, fmt.Sprintf("role    %s", node.CurrentRole()))

	count := int64(0)
	if state := node.GameState(); state != nil {
		count = state.Count
	}
	printAt(0, 2, fmt.Sprintf("count   %d", count))
	printAt(0, 4, "'+' increment   '-' decrement   'q' quit")
	termbox.Flush()
}

func printAt(x, y int, s string) {
	for i, r := range s {
		termbox.SetCell(x+i, y, r, termbox.ColorDefault, termbox.ColorDefault)
	}
}
