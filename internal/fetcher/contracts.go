package fetcher

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ExtractContractAddresses returns one record per CREATE or CREATE2 frame
// nested in the traces, in depth-first pre-order.
func ExtractContractAddresses(traces []*TransactionTrace) []ContractAddress {
	var out []ContractAddress
	zero := common.Address{}.Hex()

	for _, trace := range traces {
		if trace == nil {
			continue
		}

		stack := make([]*CallFrame, 0, len(trace.Root.Calls))
		for i := len(trace.Root.Calls) - 1; i >= 0; i-- {
			stack = append(stack, &trace.Root.Calls[i])
		}
		visited := make(map[*CallFrame]struct{})

		for len(stack) > 0 {
			frame := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, seen := visited[frame]; seen {
				continue
			}
			visited[frame] = struct{}{}

			if isCreate(frame.Type) {
				factory := strings.ToLower(frame.To)
				if factory == "" {
					factory = strings.ToLower(zero)
				}
				out = append(out, ContractAddress{
					Address:          strings.ToLower(frame.To),
					DeploymentTxHash: trace.Hash,
					Deployer:         strings.ToLower(frame.From),
					Factory:          factory,
					Bytecode:         frame.Input,
				})
			}

			for i := len(frame.Calls) - 1; i >= 0; i-- {
				stack = append(stack, &frame.Calls[i])
			}
		}
	}
	return out
}

func isCreate(callType string) bool {
	switch strings.ToUpper(callType) {
	case "CREATE", "CREATE2":
		return true
	}
	return false
}
