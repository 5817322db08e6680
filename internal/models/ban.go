package models

import "sort"

// BanList is the persisted shape of the ban registry: {"ips": [], "wallets": []}
type BanList struct {
	IPs     []string `json:"ips" yaml:"ips"`
	Wallets []string `json:"wallets" yaml:"wallets"`
}

// NewBanList builds a sorted BanList from set membership maps
func NewBanList(ips, wallets map[string]struct{}) BanList {
	list := BanList{
		IPs:     make([]string, 0, len(ips)),
		Wallets: make([]string, 0, len(wallets)),
	}
	for ip := range ips {
		list.IPs = append(list.IPs, ip)
	}
	for w := range wallets {
		list.Wallets = append(list.Wallets, w)
	}
	sort.Strings(list.IPs)
	sort.Strings(list.Wallets)
	return list
}

// BanAction is the admin mutation requested on the ban registry
type BanAction string

const (
	BanActionBan   BanAction = "ban"
	BanActionUnban BanAction = "unban"
)
