package cube

import "math/rand/v2"

// DefaultScrambleMoves 預設打亂步數
const DefaultScrambleMoves = 20

// randomMove 均勻抽取一步：6 面 x 2 方向
//
// 拒絕與前一步同軸的面（例如 L 之後的 R），避免相鄰兩步直接互相抵銷。
func randomMove(prev *Move) Move {
	for {
		m := Move{
			Face:      Faces[rand.IntN(len(Faces))],
			Clockwise: rand.IntN(2) == 0,
		}
		if prev == nil || axis(m.Face) != axis(prev.Face) {
			return m
		}
	}
}

// Scramble 生成 n 步打亂序列，並回傳套用到還原狀態後的結果
func Scramble(n int) ([]Move, State) {
	if n <= 0 {
		n = DefaultScrambleMoves
	}

	moves := make([]Move, 0, n)
	for i := 0; i < n; i++ {
		var prev *Move
		if len(moves) > 0 {
			prev = &moves[len(moves)-1]
		}
		moves = append(moves, randomMove(prev))
	}

	state := Solved()
	for _, m := range moves {
		state = Apply(state, m)
	}

	return moves, state
}
