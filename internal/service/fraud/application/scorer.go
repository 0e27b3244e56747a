// internal/service/fraud/application/scorer.go
package application

import (
	"fmt"

	"fraudguard/internal/service/fraud/domain"
)

// Scorer 根据近期订单计算重复下单的百分比分数，并给出地址次数和相似姓名两个独立的拒单信号。
// 纯函数：所有数据由调用方提前查好传入。
type Scorer struct{}

// Score 对当前订单打分，recent 中与当前订单 ID 相同或处于终态的记录会被忽略。
func (Scorer) Score(order domain.OrderFacts, recent []domain.OrderRecord, policy domain.Policy) domain.Assessment {
	var (
		dupOn   = policy.DuplicateWindowHours > 0
		addrOn  = policy.MaxOrdersPerAddress > 0 && policy.AddressWindowHours > 0
		nameOn  = policy.NameSimilarityThreshold > 0 && policy.NameCheckWindowHours > 0
		dupCut  = order.At.Add(-policy.DuplicateWindow())
		addrCut = order.At.Add(-policy.AddressWindow())
		nameCut = order.At.Add(-policy.NameWindow())

		addrKey = order.AddressKey()
		name    = order.FullName()
		orderIP = domain.CanonicalIP(order.IP)
		realIP  = !domain.IsPlaceholderIP(orderIP)

		phoneHits, ipHits, addrHits, addrCount int
		bestName                               int
		bestNameOf                             string
	)

	for _, r := range recent {
		if (order.OrderID != "" && r.ID == order.OrderID) || r.IsExcluded() {
			continue
		}
		samePhone := domain.SameIdentity(order.Phone, r.NormalizedPhone())
		sameAddr := addrKey != "" && r.AddressKey() == addrKey

		if dupOn && !r.CreatedAt.Before(dupCut) {
			if samePhone {
				phoneHits++
			}
			if realIP && domain.CanonicalIP(r.IP) == orderIP {
				ipHits++
			}
			if sameAddr {
				addrHits++
			}
		}
		if addrOn && sameAddr && !r.CreatedAt.Before(addrCut) {
			addrCount++
		}
		// 同一个手机号的订单不参与姓名比对，那是同一个人
		if nameOn && name != "" && !samePhone && !r.CreatedAt.Before(nameCut) {
			if s := domain.NameSimilarity(name, r.FullName()); s > bestName {
				bestName, bestNameOf = s, r.ID
			}
		}
	}

	var a domain.Assessment
	if phoneHits > 0 {
		a.Signals = append(a.Signals, domain.FraudSignal{
			Kind:   domain.SignalPhoneCooldown,
			Weight: policy.PhoneWeight,
			Detail: fmt.Sprintf("%d other order(s) with the same phone in the last %dh", phoneHits, policy.DuplicateWindowHours),
		})
	}
	if ipHits > 0 {
		a.Signals = append(a.Signals, domain.FraudSignal{
			Kind:   domain.SignalIPCooldown,
			Weight: policy.IPWeight,
			Detail: fmt.Sprintf("%d other order(s) from IP %s in the last %dh", ipHits, orderIP, policy.DuplicateWindowHours),
		})
	}
	if addrHits > 0 {
		a.Signals = append(a.Signals, domain.FraudSignal{
			Kind:   domain.SignalSameAddress,
			Weight: policy.AddressWeight,
			Detail: fmt.Sprintf("%d other order(s) to the same address in the last %dh", addrHits, policy.DuplicateWindowHours),
		})
	}
	for _, s := range a.Signals {
		a.Percentage += s.Weight
	}
	if a.Percentage > 100 {
		a.Percentage = 100
	}

	// 以下两个信号不计入百分比
	if addrOn && addrCount >= policy.MaxOrdersPerAddress {
		a.Signals = append(a.Signals, domain.FraudSignal{
			Kind:     domain.SignalSameAddress,
			Blocking: true,
			Detail: fmt.Sprintf("%d order(s) already placed to this address within %dh (max %d)",
				addrCount, policy.AddressWindowHours, policy.MaxOrdersPerAddress),
		})
	}
	if nameOn && bestNameOf != "" && bestName >= policy.NameSimilarityThreshold {
		a.Signals = append(a.Signals, domain.FraudSignal{
			Kind:     domain.SignalSimilarName,
			Blocking: true,
			Detail:   fmt.Sprintf("name is %d%% similar to order %s", bestName, bestNameOf),
		})
	}
	return a
}
