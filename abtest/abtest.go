// Package abtest 实现实验分流：确定性哈希分组 + 首次提交者获胜的持久化。
package abtest

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cezarfuhr/recommendation-engine/core"
)

// CreateParams 是创建实验的入参。
type CreateParams struct {
	Name              string
	Description       string
	VariantAName      string // 默认 "control"
	VariantBName      string // 默认 "treatment"
	VariantAAlgorithm string
	VariantBAlgorithm string
	SplitRatio        float64 // [0,1]
	Config            map[string]any
}

// Service 管理实验定义与用户分组。
//
// 分组语义：
//   - 确定性：hash("userID:testID") 归一到 [0,1)，小于 SplitRatio 进 A 组
//   - 首次分组永久生效：并发首次写通过 Store.SetNX 提交，恰好一条落库，
//     输掉竞态的一方回读已提交的分组（first-committer-wins）
//   - SplitRatio 变更只影响尚未分组的用户（分组用当时的 ratio 计算）
type Service struct {
	store  core.KeyValueStore
	logger *zap.Logger

	mu     sync.RWMutex
	tests  map[string]*core.Experiment // by ID
	byName map[string]string           // name -> ID
}

func NewService(store core.KeyValueStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger,
		tests:  make(map[string]*core.Experiment),
		byName: make(map[string]string),
	}
}

// CreateTest 创建实验。配置错误（ratio 越界、重名、算法缺失）
// 在创建期整体拒绝，绝不部分生效。
func (s *Service) CreateTest(ctx context.Context, p CreateParams) (*core.Experiment, error) {
	if p.Name == "" {
		return nil, core.NewDomainError(core.ModuleABTest, core.ErrorCodeInvalidConfig, "abtest: name is required")
	}
	if p.SplitRatio < 0 || p.SplitRatio > 1 {
		return nil, core.NewDomainErrorf(core.ModuleABTest, core.ErrorCodeInvalidConfig,
			"abtest: split_ratio %v outside [0,1]", p.SplitRatio)
	}
	if p.VariantAAlgorithm == "" || p.VariantBAlgorithm == "" {
		return nil, core.NewDomainError(core.ModuleABTest, core.ErrorCodeInvalidConfig,
			"abtest: both variant algorithms are required")
	}

	if p.VariantAName == "" {
		p.VariantAName = "control"
	}
	if p.VariantBName == "" {
		p.VariantBName = "treatment"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[p.Name]; exists {
		return nil, core.NewDomainErrorf(core.ModuleABTest, core.ErrorCodeInvalidConfig,
			"abtest: duplicate experiment name %q", p.Name)
	}

	test := &core.Experiment{
		ID:                uuid.NewString(),
		Name:              p.Name,
		Description:       p.Description,
		VariantAName:      p.VariantAName,
		VariantBName:      p.VariantBName,
		VariantAAlgorithm: p.VariantAAlgorithm,
		VariantBAlgorithm: p.VariantBAlgorithm,
		SplitRatio:        p.SplitRatio,
		Active:            true,
		Config:            p.Config,
		CreatedAt:         time.Now(),
	}
	s.tests[test.ID] = test
	s.byName[test.Name] = test.ID

	s.logger.Info("experiment created",
		zap.String("test_id", test.ID),
		zap.String("name", test.Name),
		zap.Float64("split_ratio", test.SplitRatio))
	return test, nil
}

// GetTest 按 ID 返回实验。
func (s *Service) GetTest(testID string) (*core.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	test, ok := s.tests[testID]
	if !ok {
		return nil, core.NewDomainErrorf(core.ModuleABTest, core.ErrorCodeNotFound, "abtest: test %s not found", testID)
	}
	return test, nil
}

// GetTestByName 按名称返回实验。
func (s *Service) GetTestByName(name string) (*core.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return nil, core.NewDomainErrorf(core.ModuleABTest, core.ErrorCodeNotFound, "abtest: test %q not found", name)
	}
	return s.tests[id], nil
}

// ActiveTests 返回所有活跃实验。
func (s *Service) ActiveTests() []*core.Experiment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Experiment
	for _, test := range s.tests {
		if test.Active {
			out = append(out, test)
		}
	}
	return out
}

// UpdateSplitRatio 更新分流比例：只影响尚未分组的用户。
func (s *Service) UpdateSplitRatio(testID string, ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return core.NewDomainErrorf(core.ModuleABTest, core.ErrorCodeInvalidConfig,
			"abtest: split_ratio %v outside [0,1]", ratio)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	test, ok := s.tests[testID]
	if !ok {
		return core.NewDomainErrorf(core.ModuleABTest, core.ErrorCodeNotFound, "abtest: test %s not found", testID)
	}
	test.SplitRatio = ratio
	return nil
}

// Deactivate 停用实验：单向、幂等，无重新激活路径。
func (s *Service) Deactivate(testID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	test, ok := s.tests[testID]
	if !ok {
		return core.NewDomainErrorf(core.ModuleABTest, core.ErrorCodeNotFound, "abtest: test %s not found", testID)
	}
	test.Active = false
	return nil
}

// Assign 返回用户的分组；不存在时计算、持久化并返回。
// 重复调用必须返回同一分组，即使 SplitRatio 之后变了。
func (s *Service) Assign(ctx context.Context, testID, userID string) (core.Variant, error) {
	if existing, ok, err := s.Variant(ctx, testID, userID); err != nil {
		return "", err
	} else if ok {
		return existing, nil
	}

	test, err := s.GetTest(testID)
	if err != nil {
		return "", err
	}

	variant := hashVariant(userID, testID, test.SplitRatio)
	assignment := &core.Assignment{
		TestID:     testID,
		UserID:     userID,
		Variant:    variant,
		AssignedAt: time.Now(),
	}
	payload, err := json.Marshal(assignment)
	if err != nil {
		return "", err
	}

	committed, err := s.store.SetNX(ctx, assignKey(testID, userID), payload)
	if err != nil {
		return "", err
	}
	if !committed {
		// 输掉了并发首次分组的竞态：以已提交的为准
		existing, ok, err := s.Variant(ctx, testID, userID)
		if err != nil {
			return "", err
		}
		if ok {
			return existing, nil
		}
		// 提交方尚不可见是不可能路径（SetNX 已返回存在）；保守返回本次计算值
		return variant, nil
	}

	if _, err := s.store.ZIncrBy(ctx, statsKey(testID), 1, string(variant)); err != nil {
		s.logger.Warn("assignment counter increment failed",
			zap.String("test_id", testID), zap.Error(err))
	}
	return variant, nil
}

// Variant 查询已存在的分组，不触发新分组。
func (s *Service) Variant(ctx context.Context, testID, userID string) (core.Variant, bool, error) {
	data, err := s.store.Get(ctx, assignKey(testID, userID))
	if core.IsStoreNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var assignment core.Assignment
	if err := json.Unmarshal(data, &assignment); err != nil {
		return "", false, err
	}
	return assignment.Variant, true, nil
}

// AlgorithmFor 解析实验并把分组映射为算法名。
// 实验不存在或已停用时返回空串（调用方回落默认算法）。
func (s *Service) AlgorithmFor(ctx context.Context, testName, userID string) (string, error) {
	test, err := s.GetTestByName(testName)
	if core.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !test.Active {
		return "", nil
	}

	variant, err := s.Assign(ctx, test.ID, userID)
	if err != nil {
		return "", err
	}
	return test.AlgorithmFor(variant), nil
}

// Statistics 是实验的分组统计。
type Statistics struct {
	TestID             string  `json:"test_id"`
	TestName           string  `json:"test_name"`
	VariantAName       string  `json:"variant_a_name"`
	VariantBName       string  `json:"variant_b_name"`
	VariantAAlgorithm  string  `json:"variant_a_algorithm"`
	VariantBAlgorithm  string  `json:"variant_b_algorithm"`
	VariantACount      int64   `json:"variant_a_count"`
	VariantBCount      int64   `json:"variant_b_count"`
	TotalUsers         int64   `json:"total_users"`
	VariantAPercentage float64 `json:"variant_a_percentage"`
	VariantBPercentage float64 `json:"variant_b_percentage"`
	Active             bool    `json:"is_active"`
}

// TestStatistics 聚合实验的分组人数与占比（无人分组时占比为 0）。
func (s *Service) TestStatistics(ctx context.Context, testID string) (*Statistics, error) {
	test, err := s.GetTest(testID)
	if err != nil {
		return nil, err
	}

	countA := s.variantCount(ctx, testID, core.VariantA)
	countB := s.variantCount(ctx, testID, core.VariantB)
	total := countA + countB

	stats := &Statistics{
		TestID:            test.ID,
		TestName:          test.Name,
		VariantAName:      test.VariantAName,
		VariantBName:      test.VariantBName,
		VariantAAlgorithm: test.VariantAAlgorithm,
		VariantBAlgorithm: test.VariantBAlgorithm,
		VariantACount:     countA,
		VariantBCount:     countB,
		TotalUsers:        total,
		Active:            test.Active,
	}
	if total > 0 {
		stats.VariantAPercentage = float64(countA) / float64(total) * 100
		stats.VariantBPercentage = float64(countB) / float64(total) * 100
	}
	return stats, nil
}

func (s *Service) variantCount(ctx context.Context, testID string, v core.Variant) int64 {
	score, err := s.store.ZScore(ctx, statsKey(testID), string(v))
	if err != nil {
		return 0
	}
	return int64(score)
}

// hashVariant 把 "userID:testID" 确定性地归一到 [0,1)，
// 小于 ratio 进 A 组。稳定、低碰撞即可，不要求密码学安全。
func hashVariant(userID, testID string, ratio float64) core.Variant {
	h := xxhash.Sum64String(userID + ":" + testID)
	unit := float64(h) / math.Exp2(64)
	if unit < ratio {
		return core.VariantA
	}
	return core.VariantB
}

func assignKey(testID, userID string) string {
	return "abtest:assign:" + testID + ":" + userID
}

func statsKey(testID string) string {
	return "abtest:stats:" + testID
}
