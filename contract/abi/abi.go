package abi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/poanetwork/tokenbridge-relayer/entity"
)

var ErrInvalidEvent = errors.New("invalid event")

type ABI struct {
	abi.ABI
}

func MustReadABI(rawJSON string) ABI {
	res, err := abi.JSON(strings.NewReader(rawJSON))
	if err != nil {
		panic(err)
	}
	return ABI{res}
}

func (a *ABI) AllEvents() map[string]bool {
	events := make(map[string]bool, len(a.Events))
	for _, event := range a.Events {
		events[event.String()] = true
	}
	return events
}

func indexed(args abi.Arguments) abi.Arguments {
	var res abi.Arguments
	for _, arg := range args {
		if arg.Indexed {
			res = append(res, arg)
		}
	}
	return res
}

func (a *ABI) FindMatchingEventABI(topics []common.Hash) *abi.Event {
	for _, e := range a.Events {
		if e.ID == topics[0] {
			if len(indexed(e.Inputs)) == len(topics)-1 {
				return &e
			}
		}
	}
	return nil
}

func decodeEventLog(event *abi.Event, topics []common.Hash, data []byte) (map[string]interface{}, error) {
	indexedInputs := indexed(event.Inputs)
	values := make(map[string]interface{})
	if len(indexedInputs) < len(event.Inputs) {
		if err := event.Inputs.UnpackIntoMap(values, data); err != nil {
			return nil, fmt.Errorf("can't unpack data: %w", err)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexedInputs, topics[1:]); err != nil {
		return nil, fmt.Errorf("can't unpack topics: %w", err)
	}
	return values, nil
}

// ParseLog decodes the log against the matching event of the ABI.
// An empty event name with no error means the log does not belong to the ABI.
func (a *ABI) ParseLog(log *entity.Log) (string, map[string]interface{}, error) {
	topics := log.Topics()
	if len(topics) == 0 {
		return "", nil, ErrInvalidEvent
	}
	event := a.FindMatchingEventABI(topics)
	if event == nil {
		return "", nil, nil
	}

	res, err := decodeEventLog(event, topics, log.Data)
	if err != nil {
		return "", nil, fmt.Errorf("can't decode event log: %w", err)
	}
	return event.String(), res, nil
}
