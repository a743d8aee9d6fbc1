// Package cube 實作 3x3 魔術方塊的純狀態轉換引擎
//
// 核心約束：
//   - 無 I/O、無共享狀態，所有操作都是值語意的純函數
//   - 每次轉動都是狀態集合上的雙射（排列），永遠不會改寫顏色數量
//   - 同一面轉動後再反向轉動必須精確還原原狀態
package cube

// Face 方塊的六個面
type Face string

const (
	FaceUp    Face = "U"
	FaceDown  Face = "D"
	FaceFront Face = "F"
	FaceBack  Face = "B"
	FaceLeft  Face = "L"
	FaceRight Face = "R"
)

// Faces 所有合法面的閉集
var Faces = []Face{FaceUp, FaceRight, FaceFront, FaceDown, FaceLeft, FaceBack}

// 狀態陣列中各面的索引與實心色
//
// 面順序與顏色編碼沿用既有的儲存格式：
//
//	0: Back  (1, red)
//	1: Up    (4, yellow)
//	2: Front (5, orange)
//	3: Down  (6, white)
//	4: Left  (2, green)
//	5: Right (3, blue)
const (
	idxBack = iota
	idxUp
	idxFront
	idxDown
	idxLeft
	idxRight
)

// State 方塊狀態：6 個面，每面 3x3 個色塊，值域 1..6
type State [6][3][3]uint8

// Move 單一面轉動
type Move struct {
	Face      Face `json:"face"`
	Clockwise bool `json:"clockwise"`
}

// Inverse 回傳同面反向的轉動
func (m Move) Inverse() Move {
	return Move{Face: m.Face, Clockwise: !m.Clockwise}
}

// axis 面所屬的轉軸：U/D、L/R、F/B 各共用一軸
func axis(f Face) int {
	switch f {
	case FaceUp, FaceDown:
		return 0
	case FaceLeft, FaceRight:
		return 1
	default:
		return 2
	}
}

// Solved 回傳還原狀態
func Solved() State {
	var s State
	colors := [6]uint8{1, 4, 5, 6, 2, 3}
	for face := 0; face < 6; face++ {
		for row := 0; row < 3; row++ {
			for col := 0; col < 3; col++ {
				s[face][row][col] = colors[face]
			}
		}
	}
	return s
}

// IsSolved 檢查是否還原：六個面各自的 9 格顏色一致
func IsSolved(s State) bool {
	for face := 0; face < 6; face++ {
		v := s[face][0][0]
		for row := 0; row < 3; row++ {
			for col := 0; col < 3; col++ {
				if s[face][row][col] != v {
					return false
				}
			}
		}
	}
	return true
}

// ValidFace 檢查面字母是否在閉集內（大小寫不敏感）
func ValidFace(f Face) bool {
	switch f {
	case FaceUp, FaceDown, FaceFront, FaceBack, FaceLeft, FaceRight:
		return true
	case "u", "d", "f", "b", "l", "r":
		return true
	}
	return false
}

// Normalize 將面字母正規化為大寫形式；非法輸入回傳原值
func Normalize(f Face) Face {
	switch f {
	case "u":
		return FaceUp
	case "d":
		return FaceDown
	case "f":
		return FaceFront
	case "b":
		return FaceBack
	case "l":
		return FaceLeft
	case "r":
		return FaceRight
	}
	return f
}

// Apply 套用單一轉動並回傳新狀態
//
// 對閉集之外的面/方向組合呼叫屬於程式錯誤，不屬於需要回復的執行期錯誤；
// 未知面會原樣回傳狀態。
func Apply(s State, m Move) State {
	switch Normalize(m.Face) {
	case FaceUp:
		return rotateU(s, m.Clockwise)
	case FaceDown:
		return rotateD(s, m.Clockwise)
	case FaceFront:
		return rotateF(s, m.Clockwise)
	case FaceBack:
		return rotateB(s, m.Clockwise)
	case FaceLeft:
		return rotateL(s, m.Clockwise)
	case FaceRight:
		return rotateR(s, m.Clockwise)
	}
	return s
}

// rotateFaceCW 面自身的 90 度順時針旋轉
func rotateFaceCW(f [3][3]uint8) [3][3]uint8 {
	return [3][3]uint8{
		{f[2][0], f[1][0], f[0][0]},
		{f[2][1], f[1][1], f[0][1]},
		{f[2][2], f[1][2], f[0][2]},
	}
}

// rotateFaceCCW 面自身的 90 度逆時針旋轉
func rotateFaceCCW(f [3][3]uint8) [3][3]uint8 {
	return [3][3]uint8{
		{f[0][2], f[1][2], f[2][2]},
		{f[0][1], f[1][1], f[2][1]},
		{f[0][0], f[1][0], f[2][0]},
	}
}

// rotateU 上面轉動：相鄰四面的第 0 列循環
func rotateU(s State, clockwise bool) State {
	n := s
	if clockwise {
		n[idxUp] = rotateFaceCW(s[idxUp])
		n[idxFront][0] = s[idxRight][0]
		n[idxRight][0] = s[idxBack][0]
		n[idxBack][0] = s[idxLeft][0]
		n[idxLeft][0] = s[idxFront][0]
	} else {
		n[idxUp] = rotateFaceCCW(s[idxUp])
		n[idxFront][0] = s[idxLeft][0]
		n[idxLeft][0] = s[idxBack][0]
		n[idxBack][0] = s[idxRight][0]
		n[idxRight][0] = s[idxFront][0]
	}
	return n
}

// rotateD 下面轉動：相鄰四面的第 2 列循環，方向與上面相反
func rotateD(s State, clockwise bool) State {
	n := s
	if clockwise {
		n[idxDown] = rotateFaceCW(s[idxDown])
		n[idxFront][2] = s[idxLeft][2]
		n[idxLeft][2] = s[idxBack][2]
		n[idxBack][2] = s[idxRight][2]
		n[idxRight][2] = s[idxFront][2]
	} else {
		n[idxDown] = rotateFaceCCW(s[idxDown])
		n[idxFront][2] = s[idxRight][2]
		n[idxRight][2] = s[idxBack][2]
		n[idxBack][2] = s[idxLeft][2]
		n[idxLeft][2] = s[idxFront][2]
	}
	return n
}

// rotateF 前面轉動：U 底列、R 左行、D 頂列、L 右行循環，行列互換處帶反轉
func rotateF(s State, clockwise bool) State {
	n := s
	if clockwise {
		n[idxFront] = rotateFaceCW(s[idxFront])
		n[idxUp][2] = [3]uint8{s[idxLeft][2][2], s[idxLeft][1][2], s[idxLeft][0][2]}
		n[idxLeft][0][2], n[idxLeft][1][2], n[idxLeft][2][2] = s[idxDown][0][0], s[idxDown][0][1], s[idxDown][0][2]
		n[idxDown][0] = [3]uint8{s[idxRight][2][0], s[idxRight][1][0], s[idxRight][0][0]}
		n[idxRight][0][0], n[idxRight][1][0], n[idxRight][2][0] = s[idxUp][2][0], s[idxUp][2][1], s[idxUp][2][2]
	} else {
		n[idxFront] = rotateFaceCCW(s[idxFront])
		n[idxUp][2] = [3]uint8{s[idxRight][0][0], s[idxRight][1][0], s[idxRight][2][0]}
		n[idxRight][0][0], n[idxRight][1][0], n[idxRight][2][0] = s[idxDown][0][2], s[idxDown][0][1], s[idxDown][0][0]
		n[idxDown][0] = [3]uint8{s[idxLeft][0][2], s[idxLeft][1][2], s[idxLeft][2][2]}
		n[idxLeft][0][2], n[idxLeft][1][2], n[idxLeft][2][2] = s[idxUp][2][2], s[idxUp][2][1], s[idxUp][2][0]
	}
	return n
}

// rotateB 後面轉動：U 頂列、L 左行、D 底列、R 右行循環
func rotateB(s State, clockwise bool) State {
	n := s
	if clockwise {
		n[idxBack] = rotateFaceCW(s[idxBack])
		n[idxUp][0] = [3]uint8{s[idxRight][0][2], s[idxRight][1][2], s[idxRight][2][2]}
		n[idxRight][0][2], n[idxRight][1][2], n[idxRight][2][2] = s[idxDown][2][2], s[idxDown][2][1], s[idxDown][2][0]
		n[idxDown][2] = [3]uint8{s[idxLeft][0][0], s[idxLeft][1][0], s[idxLeft][2][0]}
		n[idxLeft][0][0], n[idxLeft][1][0], n[idxLeft][2][0] = s[idxUp][0][2], s[idxUp][0][1], s[idxUp][0][0]
	} else {
		n[idxBack] = rotateFaceCCW(s[idxBack])
		n[idxUp][0] = [3]uint8{s[idxLeft][2][0], s[idxLeft][1][0], s[idxLeft][0][0]}
		n[idxLeft][0][0], n[idxLeft][1][0], n[idxLeft][2][0] = s[idxDown][2][0], s[idxDown][2][1], s[idxDown][2][2]
		n[idxDown][2] = [3]uint8{s[idxRight][2][2], s[idxRight][1][2], s[idxRight][0][2]}
		n[idxRight][0][2], n[idxRight][1][2], n[idxRight][2][2] = s[idxUp][0][0], s[idxUp][0][1], s[idxUp][0][2]
	}
	return n
}

// rotateL 左面轉動：U/F/D 第 0 行與 B 第 2 行循環
func rotateL(s State, clockwise bool) State {
	n := s
	if clockwise {
		n[idxLeft] = rotateFaceCW(s[idxLeft])
		n[idxUp][0][0], n[idxUp][1][0], n[idxUp][2][0] = s[idxBack][2][2], s[idxBack][1][2], s[idxBack][0][2]
		n[idxBack][0][2], n[idxBack][1][2], n[idxBack][2][2] = s[idxDown][2][0], s[idxDown][1][0], s[idxDown][0][0]
		n[idxDown][0][0], n[idxDown][1][0], n[idxDown][2][0] = s[idxFront][0][0], s[idxFront][1][0], s[idxFront][2][0]
		n[idxFront][0][0], n[idxFront][1][0], n[idxFront][2][0] = s[idxUp][0][0], s[idxUp][1][0], s[idxUp][2][0]
	} else {
		n[idxLeft] = rotateFaceCCW(s[idxLeft])
		n[idxUp][0][0], n[idxUp][1][0], n[idxUp][2][0] = s[idxFront][0][0], s[idxFront][1][0], s[idxFront][2][0]
		n[idxFront][0][0], n[idxFront][1][0], n[idxFront][2][0] = s[idxDown][0][0], s[idxDown][1][0], s[idxDown][2][0]
		n[idxDown][0][0], n[idxDown][1][0], n[idxDown][2][0] = s[idxBack][2][2], s[idxBack][1][2], s[idxBack][0][2]
		n[idxBack][0][2], n[idxBack][1][2], n[idxBack][2][2] = s[idxUp][2][0], s[idxUp][1][0], s[idxUp][0][0]
	}
	return n
}

// rotateR 右面轉動：U/F/D 第 2 行與 B 第 0 行循環
func rotateR(s State, clockwise bool) State {
	n := s
	if clockwise {
		n[idxRight] = rotateFaceCW(s[idxRight])
		n[idxUp][0][2], n[idxUp][1][2], n[idxUp][2][2] = s[idxFront][0][2], s[idxFront][1][2], s[idxFront][2][2]
		n[idxFront][0][2], n[idxFront][1][2], n[idxFront][2][2] = s[idxDown][0][2], s[idxDown][1][2], s[idxDown][2][2]
		n[idxDown][0][2], n[idxDown][1][2], n[idxDown][2][2] = s[idxBack][2][0], s[idxBack][1][0], s[idxBack][0][0]
		n[idxBack][0][0], n[idxBack][1][0], n[idxBack][2][0] = s[idxUp][2][2], s[idxUp][1][2], s[idxUp][0][2]
	} else {
		n[idxRight] = rotateFaceCCW(s[idxRight])
		n[idxUp][0][2], n[idxUp][1][2], n[idxUp][2][2] = s[idxBack][2][0], s[idxBack][1][0], s[idxBack][0][0]
		n[idxBack][0][0], n[idxBack][1][0], n[idxBack][2][0] = s[idxDown][2][2], s[idxDown][1][2], s[idxDown][0][2]
		n[idxDown][0][2], n[idxDown][1][2], n[idxDown][2][2] = s[idxFront][0][2], s[idxFront][1][2], s[idxFront][2][2]
		n[idxFront][0][2], n[idxFront][1][2], n[idxFront][2][2] = s[idxUp][0][2], s[idxUp][1][2], s[idxUp][2][2]
	}
	return n
}

// ColorCounts 統計各顏色出現次數（索引 1..6 有效）
func ColorCounts(s State) [7]int {
	var counts [7]int
	for face := 0; face < 6; face++ {
		for row := 0; row < 3; row++ {
			for col := 0; col < 3; col++ {
				v := s[face][row][col]
				if v <= 6 {
					counts[v]++
				}
			}
		}
	}
	return counts
}
