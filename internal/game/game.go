package game

import (
	"fmt"
	"strings"
)

// Status enumerates the phases of a game.
type Status string

const (
	StatusPlay           Status = "play"
	StatusEndgame        Status = "endgame"
	StatusComplete       Status = "complete"
	StatusRequestPending Status = "request_pending"
)

// Game is the state and rule logic of a go match. All fields are
// serialized to the storage blob, including the action stack and the
// previous board position, so that a deserialized game is fully
// playable (version, ko detection and last-move reporting all depend on
// them).
type Game struct {
	Status         Status         `json:"status"`
	Turn           Color          `json:"turn"`
	ActionStack    []Action       `json:"actionStack"`
	Board          *Board         `json:"board"`
	Komi           float64        `json:"komi"`
	Prisoners      map[Color]int  `json:"prisoners"`
	Territory      map[Color]int  `json:"territory"`
	PendingRequest *Request       `json:"pendingRequest"`
	Result         *Result        `json:"result"`
	PrevBoard      *Board         `json:"prevBoard"`
}

// New returns a fresh game. Black moves first.
func New(size int, komi float64) *Game {
	return &Game{
		Status:    StatusPlay,
		Turn:      Black,
		Board:     NewBoard(size),
		Komi:      komi,
		Prisoners: map[Color]int{White: 0, Black: 0},
		Territory: map[Color]int{White: 0, Black: 0},
	}
}

// Version is the number of accepted actions, which the store uses for
// optimistic concurrency.
func (g *Game) Version() int {
	return len(g.ActionStack)
}

// LastMove returns the coordinates of the last successful stone
// placement, or nil if the last action was not a placement.
func (g *Game) LastMove() *Coords {
	if n := len(g.ActionStack); n > 0 && g.ActionStack[n-1].Type == ActionPlaceStone {
		return g.ActionStack[n-1].Coords
	}
	return nil
}

// AheadOf reports whether the last accepted action is more recent than
// the given timestamp.
func (g *Game) AheadOf(timestamp float64) bool {
	n := len(g.ActionStack)
	return n > 0 && g.ActionStack[n-1].Timestamp > timestamp
}

// TakeAction attempts to apply an action. It returns true and an
// explanatory message if the action was legal, or false and the reason
// it was rejected otherwise.
func (g *Game) TakeAction(action Action) (bool, string) {
	var success bool
	var msg string

	switch action.Type {
	case ActionPlaceStone:
		success, msg = g.placeStone(action)
	case ActionPassTurn:
		success, msg = g.passTurn(action)
	case ActionResign:
		success, msg = g.resign(action)
	case ActionMarkDead:
		success, msg = g.markDead(action)
	case ActionRequestDraw:
		success, msg = g.requestDraw(action)
	case ActionRequestTallyScore:
		success, msg = g.requestTallyScore(action)
	case ActionAccept, ActionReject:
		success, msg = g.respond(action)
	default:
		return false, fmt.Sprintf("Unknown action type %q", action.Type)
	}

	if success {
		g.ActionStack = append(g.ActionStack, action)
	}
	return success, msg
}

// LegalMoves returns every empty point where color could place a stone
// without violating the no-suicide rule. Simple ko is not considered;
// the rare ko-violating candidate is rejected by TakeAction instead.
func (g *Game) LegalMoves(color Color) []Coords {
	var moves []Coords
	if g.Status != StatusPlay || g.Turn != color {
		return moves
	}
	for i := 0; i < g.Board.Size; i++ {
		for j := 0; j < g.Board.Size; j++ {
			if g.Board.At(i, j).Color != "" {
				continue
			}
			if g.placementCaptures(i, j, color) {
				moves = append(moves, Coords{i, j})
			}
		}
	}
	return moves
}

// placementCaptures reports whether placing color at (i, j) either
// captures at least one opposing group or leaves the placed group with a
// liberty.
func (g *Game) placementCaptures(i, j int, color Color) bool {
	board := g.Board.Clone()
	board.At(i, j).Color = color
	opponent := color.Inverse()
	for _, adj := range g.adjacencies(i, j) {
		if board.At(adj[0], adj[1]).Color == opponent {
			if _, alive := g.gather(adj[0], adj[1], board); !alive {
				return true
			}
		}
	}
	_, alive := g.gather(i, j, board)
	return alive
}

func (g *Game) placeStone(action Action) (bool, string) {
	if g.Status != StatusPlay {
		return false, "Stones may only be placed while the game is in play"
	}
	if action.Coords == nil {
		return false, "Placing a stone requires coordinates"
	}
	if action.Color != g.Turn {
		return false, fmt.Sprintf("It isn't %s's turn", action.Color)
	}

	i, j := action.Coords[0], action.Coords[1]
	if i < 0 || i >= g.Board.Size || j < 0 || j >= g.Board.Size {
		return false, fmt.Sprintf("Point (%d, %d) is out of bounds", i, j)
	}
	if g.Board.At(i, j).Color != "" {
		return false, fmt.Sprintf("Point (%d, %d) is occupied", i, j)
	}

	// proceed by copying the board and placing this stone. first remove
	// any captured stones. if nothing was captured, check that the
	// placed group is not itself surrounded (no suicide). finally check
	// that the board has not returned to the previous position (simple
	// ko). if the move is legal, cycle in the new board, update prisoner
	// counts and flip the turn
	newBoard := g.Board.Clone()
	newBoard.At(i, j).Color = action.Color
	opponent := action.Color.Inverse()
	captured := 0

	for _, adj := range g.adjacencies(i, j) {
		if newBoard.At(adj[0], adj[1]).Color == opponent {
			group, alive := g.gather(adj[0], adj[1], newBoard)
			if !alive {
				for _, p := range group {
					newBoard.At(p[0], p[1]).Color = ""
				}
				captured += len(group)
			}
		}
	}

	if captured == 0 {
		if _, alive := g.gather(i, j, newBoard); !alive {
			return false, fmt.Sprintf("Playing at (%d, %d) is suicide", i, j)
		}
	}

	if newBoard.ColorsEqual(g.PrevBoard) {
		return false, fmt.Sprintf("Playing at (%d, %d) violates the simple ko rule", i, j)
	}

	g.PrevBoard, g.Board = g.Board, newBoard
	g.Prisoners[action.Color] += captured
	g.Turn = g.Turn.Inverse()

	return true, fmt.Sprintf("Successfully placed a %s stone at (%d, %d)", action.Color, i, j)
}

func (g *Game) passTurn(action Action) (bool, string) {
	if g.Status != StatusPlay {
		return false, "Turns may only be passed while the game is in play"
	}
	if action.Color != g.Turn {
		return false, fmt.Sprintf("It isn't %s's turn", action.Color)
	}

	// two passes in succession commence the endgame. otherwise, pass
	// simply flips the turn
	if n := len(g.ActionStack); n > 0 && g.ActionStack[n-1].Type == ActionPassTurn {
		g.Status = StatusEndgame
	}
	g.Turn = g.Turn.Inverse()

	return true, fmt.Sprintf("%s passed on their turn", action.Color.Capitalize())
}

func (g *Game) resign(action Action) (bool, string) {
	if g.Status != StatusPlay {
		return false, "Resignation is only possible while the game is in play"
	}

	g.Status = StatusComplete
	winner := action.Color.Inverse()
	g.Result = &Result{Type: ResultResignation, Winner: winner}

	return true, fmt.Sprintf("%s resigned", action.Color.Capitalize())
}

func (g *Game) markDead(action Action) (bool, string) {
	if g.Status == StatusRequestPending {
		return false, "Cannot mark stones as dead while a previous request is pending"
	}
	if g.Status != StatusEndgame {
		return false, "Stones may only be marked dead during the endgame"
	}
	if action.Coords == nil {
		return false, "Marking stones dead requires coordinates"
	}

	i, j := action.Coords[0], action.Coords[1]
	if i < 0 || i >= g.Board.Size || j < 0 || j >= g.Board.Size {
		return false, fmt.Sprintf("Point (%d, %d) is out of bounds", i, j)
	}
	if g.Board.At(i, j).Color == "" {
		return false, fmt.Sprintf("There is no group at (%d, %d) to mark dead", i, j)
	}

	group, _ := g.gather(i, j, g.Board)
	for _, p := range group {
		g.Board.At(p[0], p[1]).MarkedDead = true
	}

	g.Status = StatusRequestPending
	g.PendingRequest = &Request{Type: RequestMarkDead, Initiator: action.Color}

	return true, fmt.Sprintf("%d stones marked as dead. Awaiting response...", len(group))
}

func (g *Game) requestDraw(action Action) (bool, string) {
	if g.Status == StatusRequestPending {
		return false, "Cannot request draw while a previous request is pending"
	}
	if g.Status != StatusPlay {
		return false, "Draws may only be requested while the game is in play"
	}
	if action.Color != g.Turn {
		return false, fmt.Sprintf("It isn't %s's turn", action.Color)
	}

	g.Status = StatusRequestPending
	g.PendingRequest = &Request{Type: RequestDraw, Initiator: action.Color}

	return true, fmt.Sprintf("%s requested a draw. Awaiting response...", action.Color.Capitalize())
}

func (g *Game) requestTallyScore(action Action) (bool, string) {
	if g.Status == StatusRequestPending {
		return false, "Cannot request score tally while a previous request is pending"
	}
	if g.Status != StatusEndgame {
		return false, "The score may only be tallied during the endgame"
	}

	g.Status = StatusRequestPending
	g.PendingRequest = &Request{Type: RequestTallyScore, Initiator: action.Color}

	return true, fmt.Sprintf(
		"%s requested that the score be tallied. Awaiting response...",
		action.Color.Capitalize(),
	)
}

func (g *Game) respond(action Action) (bool, string) {
	if g.Status != StatusRequestPending || g.PendingRequest == nil {
		return false, "There is no pending request to respond to"
	}
	if g.PendingRequest.Initiator == action.Color {
		return false, "Cannot respond to your own request"
	}

	var responseString string
	switch g.PendingRequest.Type {
	case RequestMarkDead:
		responseString = g.respondMarkDead(action)
	case RequestDraw:
		responseString = g.respondDraw(action)
	case RequestTallyScore:
		responseString = g.respondTallyScore(action)
	default:
		return false, fmt.Sprintf("Unknown request type %q", g.PendingRequest.Type)
	}

	initiator := g.PendingRequest.Initiator
	g.PendingRequest = nil

	return true, fmt.Sprintf(
		"%s %sed %s's %s",
		action.Color.Capitalize(), action.Type, initiator, responseString,
	)
}

func (g *Game) respondMarkDead(action Action) string {
	// only one group at a time can be marked dead, so scan the board for
	// marked points, counting and unmarking as we go. on accept, the
	// pieces are additionally removed and counted as prisoners
	clear := action.Type == ActionAccept
	numMarked := 0
	var color Color

	for i := 0; i < g.Board.Size; i++ {
		for j := 0; j < g.Board.Size; j++ {
			p := g.Board.At(i, j)
			if !p.MarkedDead {
				continue
			}
			color = p.Color
			p.MarkedDead = false
			if clear {
				p.Color = ""
			}
			numMarked++
		}
	}

	if action.Type == ActionAccept {
		g.Prisoners[color.Inverse()] += numMarked
		g.Status = StatusEndgame
	} else {
		g.Status = StatusPlay
	}

	var suffix string
	if action.Type == ActionReject {
		suffix = ". Returning to play to resolve"
	}
	return fmt.Sprintf("request to mark %d %s stones as dead%s", numMarked, color, suffix)
}

func (g *Game) respondDraw(action Action) string {
	if action.Type == ActionAccept {
		g.Status = StatusComplete
		g.Result = &Result{Type: ResultDraw}
	} else {
		g.Status = StatusPlay
	}
	return "draw request"
}

func (g *Game) respondTallyScore(action Action) string {
	if action.Type == ActionAccept {
		g.countTerritory()
		whiteScore := g.Komi + float64(g.Prisoners[White]+g.Territory[White])
		blackScore := float64(g.Prisoners[Black] + g.Territory[Black])
		result := &Result{}
		switch {
		case whiteScore > blackScore:
			result.Type = ResultStandardWin
			result.Winner = White
		case blackScore > whiteScore:
			result.Type = ResultStandardWin
			result.Winner = Black
		default:
			result.Type = ResultDraw
		}
		g.Result = result
		g.Status = StatusComplete
	} else {
		g.Status = StatusEndgame
	}
	return "request to tally the score"
}

// countTerritory scans the board for uncounted empty points, collects
// each connected empty region along with the colors bordering it, and
// assigns the region to a player when exactly one color borders it.
func (g *Game) countTerritory() {
	for i := 0; i < g.Board.Size; i++ {
		for j := 0; j < g.Board.Size; j++ {
			if g.Board.At(i, j).Color != "" || g.Board.At(i, j).Counted {
				continue
			}

			stack := []Coords{{i, j}}
			seen := map[Coords]bool{}
			var group []Coords
			colors := map[Color]bool{}

			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if seen[p] {
					continue
				}
				seen[p] = true
				if c := g.Board.At(p[0], p[1]).Color; c == "" {
					group = append(group, p)
					stack = append(stack, g.adjacencies(p[0], p[1])...)
				} else {
					colors[c] = true
				}
			}

			var countsFor Color
			if len(colors) == 1 {
				for c := range colors {
					countsFor = c
				}
			}
			for _, p := range group {
				g.Board.At(p[0], p[1]).Counted = true
				g.Board.At(p[0], p[1]).CountsFor = countsFor
			}
			if countsFor != "" {
				g.Territory[countsFor] += len(group)
			}
		}
	}
}

// adjacencies returns the in-bounds points orthogonally adjacent to
// (i, j).
func (g *Game) adjacencies(i, j int) []Coords {
	candidates := []Coords{{i - 1, j}, {i + 1, j}, {i, j - 1}, {i, j + 1}}
	adj := candidates[:0]
	for _, p := range candidates {
		if p[0] >= 0 && p[0] < g.Board.Size && p[1] >= 0 && p[1] < g.Board.Size {
			adj = append(adj, p)
		}
	}
	return adj
}

// gather collects the group containing board[i][j] and reports whether
// it has at least one liberty.
func (g *Game) gather(i, j int, board *Board) ([]Coords, bool) {
	color := board.At(i, j).Color
	group := []Coords{{i, j}}
	inGroup := map[Coords]bool{{i, j}: true}
	stack := []Coords{{i, j}}
	alive := false

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, adj := range g.adjacencies(p[0], p[1]) {
			if inGroup[adj] {
				continue
			}
			switch board.At(adj[0], adj[1]).Color {
			case "":
				alive = true
			case color:
				inGroup[adj] = true
				group = append(group, adj)
				stack = append(stack, adj)
			}
		}
	}

	return group, alive
}

// String renders the board for debugging.
func (g *Game) String() string {
	var sb strings.Builder
	for i := 0; i < g.Board.Size; i++ {
		for j := 0; j < g.Board.Size; j++ {
			switch g.Board.At(i, j).Color {
			case White:
				sb.WriteString("o")
			case Black:
				sb.WriteString("x")
			default:
				sb.WriteString(".")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
