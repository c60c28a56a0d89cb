package store

import (
	"context"
	"fmt"

	"github.com/gw2clears/clearoor/pkg/config"
)

// seedEncounter is a static encounter definition.
type seedEncounter struct {
	Name           string
	ShortName      string
	BossID         int64
	TriggerID      int64
	Folders        string
	HasCM          bool
	HasLCM         bool
	LeaderboardNM  bool
	LeaderboardCM  bool
	LeaderboardLCM bool
	UseForDuration bool
	EnrageSeconds  int
	Nr             int
	Emoji          string
}

// seedInstance is a static instance definition with its encounters.
type seedInstance struct {
	Name       string
	Nr         int
	Emoji      string
	Encounters []seedEncounter
}

// seedGroup is a static instance-group definition.
type seedGroup struct {
	Name         string
	MinCoreCount int
	Instances    []seedInstance
}

// seedData is the static reference data for encounters, instances and
// groups. Boss ids are dps.report boss ids, trigger ids are the parser
// encounter ids.
var seedData = []seedGroup{
	{
		Name:         GroupRaid,
		MinCoreCount: 5,
		Instances: []seedInstance{
			{
				Name: "Spirit Vale", Nr: 1, Emoji: ":w1:",
				Encounters: []seedEncounter{
					{Name: "Vale Guardian", ShortName: "VG", BossID: 15438, TriggerID: 15438, Folders: "Vale Guardian", LeaderboardNM: true, UseForDuration: true, EnrageSeconds: 480, Nr: 1, Emoji: ":vg:"},
					{Name: "Gorseval the Multifarious", ShortName: "Gorseval", BossID: 15429, TriggerID: 15429, Folders: "Gorseval the Multifarious", LeaderboardNM: true, UseForDuration: true, EnrageSeconds: 420, Nr: 2, Emoji: ":gors:"},
					{Name: "Sabetha the Saboteur", ShortName: "Sabetha", BossID: 15375, TriggerID: 15375, Folders: "Sabetha the Saboteur", LeaderboardNM: true, UseForDuration: true, EnrageSeconds: 540, Nr: 3, Emoji: ":sab:"},
				},
			},
			{
				Name: "Salvation Pass", Nr: 2, Emoji: ":w2:",
				Encounters: []seedEncounter{
					{Name: "Slothasor", ShortName: "Sloth", BossID: 16123, TriggerID: 16123, Folders: "Slothasor", LeaderboardNM: true, UseForDuration: true, EnrageSeconds: 420, Nr: 1, Emoji: ":sloth:"},
					{Name: "Bandit Trio", ShortName: "Trio", BossID: 16088, TriggerID: 16088, Folders: "Berg;Zane;Narella", LeaderboardNM: true, UseForDuration: true, Nr: 2, Emoji: ":trio:"},
					{Name: "Matthias Gabrel", ShortName: "Matthias", BossID: 16115, TriggerID: 16115, Folders: "Matthias Gabrel", LeaderboardNM: true, UseForDuration: true, EnrageSeconds: 600, Nr: 3, Emoji: ":matt:"},
				},
			},
			{
				Name: "Stronghold of the Faithful", Nr: 3, Emoji: ":w3:",
				Encounters: []seedEncounter{
					{Name: "Siege the Stronghold", ShortName: "Escort", BossID: 16253, TriggerID: 16253, Folders: "McLeod the Silent;Siege the Stronghold", LeaderboardNM: true, UseForDuration: true, Nr: 1, Emoji: ":escort:"},
					{Name: "Keep Construct", ShortName: "KC", BossID: 16235, TriggerID: 16235, Folders: "Keep Construct", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, EnrageSeconds: 600, Nr: 2, Emoji: ":kc:"},
					{Name: "Xera", ShortName: "Xera", BossID: 16246, TriggerID: 16246, Folders: "Xera", LeaderboardNM: true, UseForDuration: true, EnrageSeconds: 660, Nr: 3, Emoji: ":xera:"},
				},
			},
			{
				Name: "Bastion of the Penitent", Nr: 4, Emoji: ":w4:",
				Encounters: []seedEncounter{
					{Name: "Cairn the Indomitable", ShortName: "Cairn", BossID: 17194, TriggerID: 17194, Folders: "Cairn the Indomitable", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, Nr: 1, Emoji: ":cairn:"},
					{Name: "Mursaat Overseer", ShortName: "MO", BossID: 17172, TriggerID: 17172, Folders: "Mursaat Overseer", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, EnrageSeconds: 360, Nr: 2, Emoji: ":mo:"},
					{Name: "Samarog", ShortName: "Sama", BossID: 17188, TriggerID: 17188, Folders: "Samarog", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, EnrageSeconds: 660, Nr: 3, Emoji: ":sama:"},
					{Name: "Deimos", ShortName: "Deimos", BossID: 17154, TriggerID: 17154, Folders: "Deimos", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, EnrageSeconds: 720, Nr: 4, Emoji: ":deimos:"},
				},
			},
			{
				Name: "Hall of Chains", Nr: 5, Emoji: ":w5:",
				Encounters: []seedEncounter{
					{Name: "Soulless Horror", ShortName: "SH", BossID: 19767, TriggerID: 19767, Folders: "Soulless Horror", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, EnrageSeconds: 480, Nr: 1, Emoji: ":sh:"},
					{Name: "River of Souls", ShortName: "River", BossID: 19828, TriggerID: 19828, Folders: "River of Souls", LeaderboardNM: true, UseForDuration: true, Nr: 2, Emoji: ":river:"},
					{Name: "Eye of Fate", ShortName: "Eyes", BossID: 19844, TriggerID: 19844, Folders: "Eye of Fate;Eye of Judgement;Statues of Darkness", LeaderboardNM: true, UseForDuration: true, Nr: 3, Emoji: ":eyes:"},
					{Name: "Dhuum", ShortName: "Dhuum", BossID: 19450, TriggerID: 19450, Folders: "Dhuum", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, EnrageSeconds: 600, Nr: 4, Emoji: ":dhuum:"},
				},
			},
			{
				Name: "Mythwright Gambit", Nr: 6, Emoji: ":w6:",
				Encounters: []seedEncounter{
					{Name: "Conjured Amalgamate", ShortName: "CA", BossID: 43974, TriggerID: 43974, Folders: "Conjured Amalgamate", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, EnrageSeconds: 480, Nr: 1, Emoji: ":ca:"},
					{Name: "Twin Largos", ShortName: "Largos", BossID: 21105, TriggerID: 21105, Folders: "Nikare;Twin Largos", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, EnrageSeconds: 480, Nr: 2, Emoji: ":largos:"},
					{Name: "Qadim", ShortName: "Qadim", BossID: 20934, TriggerID: 20934, Folders: "Qadim", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, EnrageSeconds: 780, Nr: 3, Emoji: ":qadim:"},
				},
			},
			{
				Name: "The Key of Ahdashim", Nr: 7, Emoji: ":w7:",
				Encounters: []seedEncounter{
					{Name: "Cardinal Adina", ShortName: "Adina", BossID: 22006, TriggerID: 22006, Folders: "Cardinal Adina", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, EnrageSeconds: 480, Nr: 1, Emoji: ":adina:"},
					{Name: "Cardinal Sabir", ShortName: "Sabir", BossID: 21964, TriggerID: 21964, Folders: "Cardinal Sabir", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, EnrageSeconds: 540, Nr: 2, Emoji: ":sabir:"},
					{Name: "Qadim the Peerless", ShortName: "QtP", BossID: 22000, TriggerID: 22000, Folders: "Qadim the Peerless", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, EnrageSeconds: 720, Nr: 3, Emoji: ":qtp:"},
				},
			},
			{
				Name: "Mount Balrior", Nr: 8, Emoji: ":w8:",
				Encounters: []seedEncounter{
					{Name: "Greer, the Blightbringer", ShortName: "Greer", BossID: 26725, TriggerID: 26725, Folders: "Greer, the Blightbringer", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, Nr: 1, Emoji: ":greer:"},
					{Name: "Decima, the Stormsinger", ShortName: "Decima", BossID: 26774, TriggerID: 26774, Folders: "Decima, the Stormsinger", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, Nr: 2, Emoji: ":decima:"},
					{Name: "Ura, the Steamshrieker", ShortName: "Ura", BossID: 26712, TriggerID: 26712, Folders: "Ura, the Steamshrieker", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, Nr: 3, Emoji: ":ura:"},
				},
			},
		},
	},
	{
		Name:         GroupStrike,
		MinCoreCount: 5,
		Instances: []seedInstance{
			{
				Name: "End of Dragons", Nr: 1, Emoji: ":eod:",
				Encounters: []seedEncounter{
					{Name: "Aetherblade Hideout", ShortName: "Mai Trin", BossID: 24033, TriggerID: 24033, Folders: "Aetherblade Hideout;Mai Trin", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, Nr: 1, Emoji: ":maitrin:"},
					{Name: "Xunlai Jade Junkyard", ShortName: "Ankka", BossID: 23957, TriggerID: 23957, Folders: "Xunlai Jade Junkyard;Ankka", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, Nr: 2, Emoji: ":ankka:"},
					{Name: "Kaineng Overlook", ShortName: "Minister Li", BossID: 24485, TriggerID: 24485, Folders: "Kaineng Overlook;Minister Li", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, Nr: 3, Emoji: ":li:"},
					{Name: "Harvest Temple", ShortName: "Dragonvoid", BossID: 43488, TriggerID: 43488, Folders: "Harvest Temple;The Dragonvoid", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, Nr: 4, Emoji: ":ht:"},
					{Name: "Old Lion's Court", ShortName: "OLC", BossID: 25414, TriggerID: 25414, Folders: "Old Lion's Court;Prototype Vermilion", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, Nr: 5, Emoji: ":olc:"},
				},
			},
			{
				Name: "Secrets of the Obscure", Nr: 2, Emoji: ":soto:",
				Encounters: []seedEncounter{
					{Name: "Cosmic Observatory", ShortName: "Dagda", BossID: 25705, TriggerID: 25705, Folders: "Cosmic Observatory;Dagda", HasCM: true, LeaderboardNM: true, LeaderboardCM: true, UseForDuration: true, Nr: 1, Emoji: ":dagda:"},
					{Name: "Temple of Febe", ShortName: "Cerus", BossID: 25989, TriggerID: 25989, Folders: "Temple of Febe;Cerus", HasCM: true, HasLCM: true, LeaderboardNM: true, LeaderboardCM: true, LeaderboardLCM: true, UseForDuration: true, EnrageSeconds: 600, Nr: 2, Emoji: ":cerus:"},
				},
			},
		},
	},
	{
		Name:         GroupFractal,
		MinCoreCount: 3,
		Instances: []seedInstance{
			{
				Name: "Nightmare", Nr: 1, Emoji: ":nightmare:",
				Encounters: []seedEncounter{
					{Name: "MAMA", ShortName: "MAMA", BossID: 17021, TriggerID: 17021, Folders: "MAMA", HasCM: true, LeaderboardCM: true, UseForDuration: true, Nr: 1, Emoji: ":mama:"},
					{Name: "Siax the Corrupted", ShortName: "Siax", BossID: 17028, TriggerID: 17028, Folders: "Siax the Corrupted", HasCM: true, LeaderboardCM: true, UseForDuration: true, Nr: 2, Emoji: ":siax:"},
					{Name: "Ensolyss of the Endless Torment", ShortName: "Ensolyss", BossID: 16948, TriggerID: 16948, Folders: "Ensolyss of the Endless Torment", HasCM: true, LeaderboardCM: true, UseForDuration: true, Nr: 3, Emoji: ":enso:"},
				},
			},
			{
				Name: "Shattered Observatory", Nr: 2, Emoji: ":so:",
				Encounters: []seedEncounter{
					{Name: "Skorvald the Shattered", ShortName: "Skorvald", BossID: 17632, TriggerID: 17632, Folders: "Skorvald the Shattered", HasCM: true, LeaderboardCM: true, UseForDuration: true, Nr: 1, Emoji: ":skor:"},
					{Name: "Artsariiv", ShortName: "Artsariiv", BossID: 17949, TriggerID: 17949, Folders: "Artsariiv", HasCM: true, LeaderboardCM: true, UseForDuration: true, Nr: 2, Emoji: ":arts:"},
					{Name: "Arkk", ShortName: "Arkk", BossID: 17759, TriggerID: 17759, Folders: "Arkk", HasCM: true, LeaderboardCM: true, UseForDuration: true, Nr: 3, Emoji: ":arkk:"},
				},
			},
			{
				Name: "Sunqua Peak", Nr: 3, Emoji: ":sunqua:",
				Encounters: []seedEncounter{
					{Name: "Ai, Keeper of the Peak", ShortName: "Ai", BossID: 23254, TriggerID: 23254, Folders: "Ai, Keeper of the Peak;Sunqua Peak", HasCM: true, LeaderboardCM: true, UseForDuration: true, Nr: 1, Emoji: ":ai:"},
					{Name: "Dark Ai, Keeper of the Peak", ShortName: "Dark Ai", BossID: -23254, TriggerID: 232542, Folders: "Ai, Keeper of the Peak;Sunqua Peak", HasCM: true, LeaderboardCM: true, UseForDuration: true, Nr: 2, Emoji: ":darkai:"},
				},
			},
			{
				Name: "Silent Surf", Nr: 4, Emoji: ":surf:",
				Encounters: []seedEncounter{
					{Name: "Kanaxai, Scythe of House Aurkus", ShortName: "Kanaxai", BossID: 25577, TriggerID: 25577, Folders: "Kanaxai, Scythe of House Aurkus;Silent Surf", HasCM: true, LeaderboardCM: true, UseForDuration: true, Nr: 1, Emoji: ":kanaxai:"},
				},
			},
			{
				Name: "Lonely Tower", Nr: 5, Emoji: ":tower:",
				Encounters: []seedEncounter{
					{Name: "Eparch", ShortName: "Eparch", BossID: 26231, TriggerID: 26231, Folders: "Eparch;Lonely Tower", HasCM: true, LeaderboardCM: true, UseForDuration: true, Nr: 1, Emoji: ":eparch:"},
				},
			},
		},
	},
	{
		Name:         GroupGolem,
		MinCoreCount: 0,
		Instances: []seedInstance{
			{
				Name: "Special Forces Training Area", Nr: 1, Emoji: ":golem:",
				Encounters: []seedEncounter{
					{Name: "Standard Kitty Golem", ShortName: "Golem", BossID: 16199, TriggerID: 16199, Folders: "Standard Kitty Golem", Nr: 1, Emoji: ":kitty:"},
				},
			},
		},
	},
}

// SeedEncounters upserts the static reference data. Existing rows are
// refreshed in place; ids are preserved so foreign keys stay valid.
func (s *store) SeedEncounters(ctx context.Context) error {
	count := 0

	for _, sg := range seedData {
		group := InstanceGroup{Name: sg.Name}
		if err := s.db.WithContext(ctx).
			Where("name = ?", sg.Name).
			Assign(InstanceGroup{MinCoreCount: sg.MinCoreCount}).
			FirstOrCreate(&group).Error; err != nil {
			return fmt.Errorf("seeding instance group %q: %w", sg.Name, err)
		}

		for _, si := range sg.Instances {
			inst := Instance{Name: si.Name}
			if err := s.db.WithContext(ctx).
				Where("name = ?", si.Name).
				Assign(Instance{
					Nr:              si.Nr,
					Emoji:           si.Emoji,
					InstanceGroupID: group.ID,
				}).
				FirstOrCreate(&inst).Error; err != nil {
				return fmt.Errorf("seeding instance %q: %w", si.Name, err)
			}

			for _, se := range si.Encounters {
				enc := Encounter{Name: se.Name}
				if err := s.db.WithContext(ctx).
					Where("name = ?", se.Name).
					Assign(Encounter{
						ShortName:      se.ShortName,
						BossID:         se.BossID,
						TriggerID:      se.TriggerID,
						Folders:        se.Folders,
						HasCM:          se.HasCM,
						HasLCM:         se.HasLCM,
						LeaderboardNM:  se.LeaderboardNM,
						LeaderboardCM:  se.LeaderboardCM,
						LeaderboardLCM: se.LeaderboardLCM,
						UseForDuration: se.UseForDuration,
						EnrageSeconds:  se.EnrageSeconds,
						Nr:             se.Nr,
						Emoji:          se.Emoji,
						InstanceID:     inst.ID,
					}).
					FirstOrCreate(&enc).Error; err != nil {
					return fmt.Errorf("seeding encounter %q: %w", se.Name, err)
				}

				count++
			}
		}
	}

	s.log.WithField("count", count).Info("Seeded encounters")

	return nil
}

// SeedPlayers upserts the configured player roster.
func (s *store) SeedPlayers(
	ctx context.Context, players []config.PlayerSeed,
) error {
	for _, p := range players {
		player := Player{Account: p.Account}
		if err := s.db.WithContext(ctx).
			Where("account = ?", p.Account).
			Assign(Player{Role: p.Role}).
			FirstOrCreate(&player).Error; err != nil {
			return fmt.Errorf("seeding player %q: %w", p.Account, err)
		}
	}

	if len(players) > 0 {
		s.log.WithField("count", len(players)).Info("Seeded players from config")
	}

	return nil
}
