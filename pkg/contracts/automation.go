package contracts

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// On-chain job status codes returned by jobStatus
const (
	OnChainStatusUnknown uint8 = iota
	OnChainStatusActive
	OnChainStatusExecuted
	OnChainStatusCancelled
	OnChainStatusExpired
)

// AutomationKeeperABI is the ABI of the AutomationKeeper contract
const AutomationKeeperABI = `[
	{
		"inputs": [
			{"internalType": "bytes32", "name": "jobId", "type": "bytes32"},
			{"internalType": "address", "name": "owner", "type": "address"},
			{"internalType": "address", "name": "tokenIn", "type": "address"},
			{"internalType": "address", "name": "tokenOut", "type": "address"},
			{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"internalType": "uint256", "name": "minAmountOut", "type": "uint256"}
		],
		"name": "executeLimitOrder",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "bytes32", "name": "jobId", "type": "bytes32"},
			{"internalType": "address", "name": "owner", "type": "address"},
			{"internalType": "address", "name": "tokenIn", "type": "address"},
			{"internalType": "address", "name": "tokenOut", "type": "address"},
			{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"internalType": "uint256", "name": "minAmountOut", "type": "uint256"}
		],
		"name": "executeDCATick",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "bytes32", "name": "jobId", "type": "bytes32"}
		],
		"name": "jobStatus",
		"outputs": [
			{"internalType": "uint8", "name": "", "type": "uint8"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "jobId", "type": "bytes32"},
			{"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "amountOut", "type": "uint256"}
		],
		"name": "JobExecuted",
		"type": "event"
	}
]`

// AutomationKeeper is a Go binding around the AutomationKeeper contract.
type AutomationKeeper struct {
	AutomationKeeperCaller     // Read-only binding to the contract
	AutomationKeeperTransactor // Write-only binding to the contract
	AutomationKeeperFilterer   // Log filterer for contract events
}

// AutomationKeeperCaller is a read-only Go binding around the AutomationKeeper contract.
type AutomationKeeperCaller struct {
	contract *bind.BoundContract // Generic contract wrapper for the low level calls
}

// AutomationKeeperTransactor is a write-only Go binding around the AutomationKeeper contract.
type AutomationKeeperTransactor struct {
	contract *bind.BoundContract // Generic contract wrapper for the low level calls
}

// AutomationKeeperFilterer is a log filtering Go binding around the AutomationKeeper contract events.
type AutomationKeeperFilterer struct {
	contract *bind.BoundContract // Generic contract wrapper for the low level calls
}

// NewAutomationKeeper creates a new instance of AutomationKeeper, bound to a specific deployed contract.
func NewAutomationKeeper(address common.Address, backend bind.ContractBackend) (*AutomationKeeper, error) {
	contract, err := bindAutomationKeeper(address, backend, backend, backend)
	if err != nil {
		return nil, err
	}
	return &AutomationKeeper{
		AutomationKeeperCaller:     AutomationKeeperCaller{contract: contract},
		AutomationKeeperTransactor: AutomationKeeperTransactor{contract: contract},
		AutomationKeeperFilterer:   AutomationKeeperFilterer{contract: contract},
	}, nil
}

// bindAutomationKeeper binds a generic wrapper to an already deployed contract.
func bindAutomationKeeper(address common.Address, caller bind.ContractCaller, transactor bind.ContractTransactor, filterer bind.ContractFilterer) (*bind.BoundContract, error) {
	parsed, err := abi.JSON(strings.NewReader(AutomationKeeperABI))
	if err != nil {
		return nil, err
	}
	return bind.NewBoundContract(address, parsed, caller, transactor, filterer), nil
}

// JobStatus is a free data retrieval call binding the contract method jobStatus.
//
// Solidity: function jobStatus(bytes32 jobId) view returns(uint8)
func (_AutomationKeeper *AutomationKeeperCaller) JobStatus(opts *bind.CallOpts, jobId [32]byte) (uint8, error) {
	var out []interface{}
	err := _AutomationKeeper.contract.Call(opts, &out, "jobStatus", jobId)
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

// ExecuteLimitOrder is a paid mutator transaction binding the contract method executeLimitOrder.
//
// Solidity: function executeLimitOrder(bytes32 jobId, address owner, address tokenIn, address tokenOut, uint256 amountIn, uint256 minAmountOut) returns()
func (_AutomationKeeper *AutomationKeeperTransactor) ExecuteLimitOrder(opts *bind.TransactOpts, jobId [32]byte, owner common.Address, tokenIn common.Address, tokenOut common.Address, amountIn *big.Int, minAmountOut *big.Int) (*types.Transaction, error) {
	return _AutomationKeeper.contract.Transact(opts, "executeLimitOrder", jobId, owner, tokenIn, tokenOut, amountIn, minAmountOut)
}

// ExecuteDCATick is a paid mutator transaction binding the contract method executeDCATick.
//
// Solidity: function executeDCATick(bytes32 jobId, address owner, address tokenIn, address tokenOut, uint256 amountIn, uint256 minAmountOut) returns()
func (_AutomationKeeper *AutomationKeeperTransactor) ExecuteDCATick(opts *bind.TransactOpts, jobId [32]byte, owner common.Address, tokenIn common.Address, tokenOut common.Address, amountIn *big.Int, minAmountOut *big.Int) (*types.Transaction, error) {
	return _AutomationKeeper.contract.Transact(opts, "executeDCATick", jobId, owner, tokenIn, tokenOut, amountIn, minAmountOut)
}

// AutomationKeeperJobExecutedIterator is returned from FilterJobExecuted and is used to iterate over the raw logs and unpacked data for JobExecuted events.
type AutomationKeeperJobExecutedIterator struct {
	Event *AutomationKeeperJobExecuted // Event containing the contract specifics and raw log

	contract *bind.BoundContract // Generic contract to use for unpacking event data
	event    string              // Event name to use for unpacking event data

	logs chan types.Log        // Log channel receiving the found contract events
	sub  ethereum.Subscription // Subscription for errors, completion and termination
	done bool                  // Whether the subscription completed delivering logs
	fail error                 // Occurred error to stop iteration
}

// Next advances the iterator to the subsequent event, returning whether there
// are any more events found. In case of a retrieval or parsing error, false is
// returned and Error() can be queried for the exact failure.
func (it *AutomationKeeperJobExecutedIterator) Next() bool {
	if it.fail != nil {
		return false
	}
	if it.done {
		select {
		case log := <-it.logs:
			it.Event = new(AutomationKeeperJobExecuted)
			if err := it.contract.UnpackLog(it.Event, it.event, log); err != nil {
				it.fail = err
				return false
			}
			it.Event.Raw = log
			return true

		default:
			return false
		}
	}
	select {
	case log := <-it.logs:
		it.Event = new(AutomationKeeperJobExecuted)
		if err := it.contract.UnpackLog(it.Event, it.event, log); err != nil {
			it.fail = err
			return false
		}
		it.Event.Raw = log
		return true

	case err := <-it.sub.Err():
		it.done = true
		it.fail = err
		return it.Next()
	}
}

// Error returns any retrieval or parsing error occurred during filtering.
func (it *AutomationKeeperJobExecutedIterator) Error() error {
	return it.fail
}

// Close terminates the iteration process, releasing any pending underlying
// resources.
func (it *AutomationKeeperJobExecutedIterator) Close() error {
	it.sub.Unsubscribe()
	return nil
}

// AutomationKeeperJobExecuted represents a JobExecuted event raised by the AutomationKeeper contract.
type AutomationKeeperJobExecuted struct {
	JobId     [32]byte
	Owner     common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
	Raw       types.Log // Blockchain specific contextual infos
}

// FilterJobExecuted is a free log retrieval operation binding the contract event JobExecuted.
//
// Solidity: event JobExecuted(bytes32 indexed jobId, address indexed owner, uint256 amountIn, uint256 amountOut)
func (_AutomationKeeper *AutomationKeeperFilterer) FilterJobExecuted(opts *bind.FilterOpts, jobId [][32]byte, owner []common.Address) (*AutomationKeeperJobExecutedIterator, error) {
	var jobIdRule []interface{}
	for _, jobIdItem := range jobId {
		jobIdRule = append(jobIdRule, jobIdItem)
	}
	var ownerRule []interface{}
	for _, ownerItem := range owner {
		ownerRule = append(ownerRule, ownerItem)
	}

	logs, sub, err := _AutomationKeeper.contract.FilterLogs(opts, "JobExecuted", jobIdRule, ownerRule)
	if err != nil {
		return nil, err
	}
	return &AutomationKeeperJobExecutedIterator{contract: _AutomationKeeper.contract, event: "JobExecuted", logs: logs, sub: sub}, nil
}

// WatchJobExecuted is a free log subscription operation binding the contract event JobExecuted.
//
// Solidity: event JobExecuted(bytes32 indexed jobId, address indexed owner, uint256 amountIn, uint256 amountOut)
func (_AutomationKeeper *AutomationKeeperFilterer) WatchJobExecuted(opts *bind.WatchOpts, sink chan<- *AutomationKeeperJobExecuted, jobId [][32]byte, owner []common.Address) (event.Subscription, error) {
	var jobIdRule []interface{}
	for _, jobIdItem := range jobId {
		jobIdRule = append(jobIdRule, jobIdItem)
	}
	var ownerRule []interface{}
	for _, ownerItem := range owner {
		ownerRule = append(ownerRule, ownerItem)
	}

	logs, sub, err := _AutomationKeeper.contract.WatchLogs(opts, "JobExecuted", jobIdRule, ownerRule)
	if err != nil {
		return nil, err
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case log := <-logs:
				event := new(AutomationKeeperJobExecuted)
				if err := _AutomationKeeper.contract.UnpackLog(event, "JobExecuted", log); err != nil {
					return err
				}
				event.Raw = log

				select {
				case sink <- event:
				case err := <-sub.Err():
					return err
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

// ParseJobExecuted is a log parse operation binding the contract event JobExecuted.
//
// Solidity: event JobExecuted(bytes32 indexed jobId, address indexed owner, uint256 amountIn, uint256 amountOut)
func (_AutomationKeeper *AutomationKeeperFilterer) ParseJobExecuted(log types.Log) (*AutomationKeeperJobExecuted, error) {
	event := new(AutomationKeeperJobExecuted)
	if err := _AutomationKeeper.contract.UnpackLog(event, "JobExecuted", log); err != nil {
		return nil, err
	}
	event.Raw = log
	return event, nil
}
