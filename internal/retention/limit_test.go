package retention

import (
	"testing"

	"github.com/cardkeeper/cardkeeper/internal/config"
)

func TestLimitMetricShare(t *testing.T) {
	folder := config.FolderAttr{LimitIsCount: false, LimitValue: 50}
	agg := dirAggregate{totalSpace: 800}
	metric := limitMetric(agg, folder, 1000)
	if metric != 80 {
		t.Fatalf("metric = %d, want 80", metric)
	}
}

func TestLimitMetricZeroSumAvoidsDivideByZero(t *testing.T) {
	folder := config.FolderAttr{LimitIsCount: false, LimitValue: 50}
	metric := limitMetric(dirAggregate{totalSpace: 0}, folder, 0)
	if metric != 0 {
		t.Fatalf("metric = %d, want 0", metric)
	}
}

func TestLimitMetricCount(t *testing.T) {
	folder := config.FolderAttr{LimitIsCount: true, LimitValue: 3}
	metric := limitMetric(dirAggregate{fileCount: 5}, folder, 0)
	if metric != 5 {
		t.Fatalf("metric = %d, want 5", metric)
	}
}

func TestFirstOverLimitShareScenario(t *testing.T) {
	folders := []config.FolderAttr{
		{RelativePath: "a/", LimitIsCount: false, LimitValue: 50},
		{RelativePath: "b/", LimitIsCount: false, LimitValue: 50},
	}
	aggs := []dirAggregate{
		{totalSpace: 800 * 1024 * 1024},
		{totalSpace: 200 * 1024 * 1024},
	}
	sum := sumSpace(aggs)

	idx, ok := firstOverLimit(aggs, folders, sum)
	if !ok || idx != 0 {
		t.Fatalf("first victim = (%d, %v), want (0, true)", idx, ok)
	}

	aggs[0].totalSpace = 0
	sum = sumSpace(aggs)
	idx, ok = firstOverLimit(aggs, folders, sum)
	if !ok || idx != 1 {
		t.Fatalf("second victim = (%d, %v), want (1, true)", idx, ok)
	}
}

func TestFirstOverLimitCountScenario(t *testing.T) {
	folders := []config.FolderAttr{{RelativePath: "a/", LimitIsCount: true, LimitValue: 3}}

	aggs := []dirAggregate{{fileCount: 5}}
	idx, ok := firstOverLimit(aggs, folders, 0)
	if !ok || idx != 0 {
		t.Fatalf("victim = (%d, %v), want (0, true)", idx, ok)
	}

	aggs[0].fileCount = 3
	_, ok = firstOverLimit(aggs, folders, 0)
	if ok {
		t.Fatal("expected no victim once count is at the limit")
	}
}

func TestFirstOverLimitNoneOverLimit(t *testing.T) {
	folders := []config.FolderAttr{{RelativePath: "a/", LimitIsCount: false, LimitValue: 50}}
	aggs := []dirAggregate{{totalSpace: 10}}
	_, ok := firstOverLimit(aggs, folders, 100)
	if ok {
		t.Fatal("expected no victim when under limit")
	}
}
