package anvil

import (
	"fmt"
	"os"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/term"
)

// runPager displays long listings (search results, installed packages, index
// contents) in a scrollable view. Output stays plain when stdout is not a
// terminal or the listing fits on screen, so piping and short lists are
// untouched.
func runPager(title string, lines []string) error {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		printPlain(lines)
		return nil
	}

	// Two rows go to the border and one to the key help line.
	if _, height, err := term.GetSize(fd); err == nil && len(lines) <= height-3 {
		printPlain(lines)
		return nil
	}

	app := tview.NewApplication()

	view := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	view.SetBorder(true).SetTitle(" " + title + " ")
	fmt.Fprint(tview.ANSIWriter(view), strings.Join(lines, "\n"))

	help := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]j/k or arrows scroll, g/G jump to top/bottom, q quits[white]")

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(view, 0, 1, true).
		AddItem(help, 1, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyCtrlQ:
			app.Stop()
			return nil
		case tcell.KeyRune:
		default:
			return event
		}
		switch event.Rune() {
		case 'q':
			app.Stop()
			return nil
		case 'g':
			view.ScrollToBeginning()
			return nil
		case 'G':
			view.ScrollToEnd()
			return nil
		case 'j':
			return tcell.NewEventKey(tcell.KeyDown, 0, tcell.ModNone)
		case 'k':
			return tcell.NewEventKey(tcell.KeyUp, 0, tcell.ModNone)
		}
		return event
	})

	if err := app.SetRoot(layout, true).SetFocus(view).Run(); err != nil {
		return fmt.Errorf("pager execution failed: %w", err)
	}
	return nil
}

func printPlain(lines []string) {
	for _, line := range lines {
		fmt.Println(line)
	}
}
