package random

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

var ErrInvalidBound = errors.New("随机范围必须为正整数")

// Selector 在 [0, bound) 内均匀选取下标
type Selector interface {
	PickIndex(bound int) (int, error)
}

// CryptoSelector 基于 crypto/rand 的选择器，结果不可由种子重放
type CryptoSelector struct {
	reader io.Reader
}

func NewCryptoSelector() *CryptoSelector {
	return &CryptoSelector{reader: rand.Reader}
}

func (s *CryptoSelector) PickIndex(bound int) (int, error) {
	if bound <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidBound, bound)
	}
	v, err := rand.Int(s.reader, big.NewInt(int64(bound)))
	if err != nil {
		return 0, fmt.Errorf("读取安全随机数失败: %w", err)
	}
	return int(v.Int64()), nil
}

// Pick 从切片中随机取一个元素
func Pick[T any](s Selector, items []T) (T, error) {
	var zero T
	idx, err := s.PickIndex(len(items))
	if err != nil {
		return zero, err
	}
	if idx < 0 || idx >= len(items) {
		return zero, fmt.Errorf("选择器返回越界下标 %d/%d", idx, len(items))
	}
	return items[idx], nil
}
