package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Axthefish/cogcoach/types"
)

func TestAdjustPromptBasedOnError_Escalation(t *testing.T) {
	base := "生成行动计划"
	parseErr := types.NewError(types.ErrParse, "output is not valid JSON")

	first := AdjustPromptBasedOnError(base, types.ErrParse, parseErr, 1)
	assert.Contains(t, first, base)
	assert.Contains(t, first, "只输出一个合法的 JSON 对象")
	assert.NotContains(t, first, "逐字段输出")

	second := AdjustPromptBasedOnError(base, types.ErrParse, parseErr, 2)
	assert.Contains(t, second, "请按以下结构逐字段输出")

	third := AdjustPromptBasedOnError(base, types.ErrParse, parseErr, 3)
	assert.Contains(t, third, "最小可用 JSON")
}

func TestAdjustPromptBasedOnError_ListsMissingFields(t *testing.T) {
	verr := types.NewError(types.ErrSchemaValidation, "required fields missing: stopLoss, triggers")

	adjusted := AdjustPromptBasedOnError("p", types.ErrSchemaValidation, verr, 2)
	assert.Contains(t, adjusted, "stopLoss")
	assert.Contains(t, adjusted, "triggers")
	assert.Contains(t, adjusted, "务必补全")
}

func TestAdjustPromptBasedOnError_EmptyResponseHint(t *testing.T) {
	emptyErr := types.NewError(types.ErrEmptyResponse, "model returned empty response")

	adjusted := AdjustPromptBasedOnError("p", types.ErrEmptyResponse, emptyErr, 1)
	assert.Contains(t, adjusted, "必须产生非空输出")
}

func TestAdjustPromptBasedOnError_KeepsOriginalPromptPrefix(t *testing.T) {
	base := "original instruction text"
	adjusted := AdjustPromptBasedOnError(base, types.ErrParse, nil, 1)
	assert.True(t, len(adjusted) > len(base))
	assert.Equal(t, base, adjusted[:len(base)])
}
