// internal/service/order/domain/state.go
package domain

// State 定义了兑换订单的生命周期状态
type State string

const (
	StatePending   State = "pending"   // 已入库，等待处理
	StateRouting   State = "routing"   // 正在向各交易场所询价
	StateBuilding  State = "building"  // 已选定交易场所，正在执行兑换
	StateSubmitted State = "submitted" // 交易已提交
	StateConfirmed State = "confirmed" // 交易已确认 (终态)
	StateFailed    State = "failed"    // 处理失败 (终态)
)

// Flow 是正向流转的完整顺序，是状态机的唯一事实来源。
var Flow = []State{StatePending, StateRouting, StateBuilding, StateSubmitted, StateConfirmed}

// AllStates 包含所有可持久化的状态值
var AllStates = []State{StatePending, StateRouting, StateBuilding, StateSubmitted, StateConfirmed, StateFailed}

// NextState 返回正向流程中的后继状态; 终态或非法状态返回 false。
func NextState(s State) (State, bool) {
	for i, st := range Flow {
		if st != s {
			continue
		}
		if i+1 < len(Flow) {
			return Flow[i+1], true
		}
		return "", false
	}
	return "", false
}

// IsTerminal 判断是否为终态
func (s State) IsTerminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// IsValid 判断是否为已知状态
func (s State) IsValid() bool {
	for _, st := range AllStates {
		if st == s {
			return true
		}
	}
	return false
}

func (s State) String() string {
	return string(s)
}

// ParseState 将外部输入解析为状态值
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.IsValid() {
		return "", ErrUnknownState
	}
	return s, nil
}

// NonTerminalStates 返回所有非终态, 顺序与 Flow 一致
func NonTerminalStates() []State {
	out := make([]State, 0, len(Flow))
	for _, s := range Flow {
		if !s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

// CanTransition 判断 from -> to 是否是合法的状态迁移。
// 只允许沿正向流程前进一步, 或者从任意非终态进入 failed。
func CanTransition(from, to State) bool {
	if from.IsTerminal() || !from.IsValid() {
		return false
	}
	if to == StateFailed {
		return true
	}
	next, ok := NextState(from)
	return ok && next == to
}
